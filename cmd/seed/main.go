// Seed tool for exercising Kite with synthetic deposit/withdrawal histories.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080 -users 100
//
// This tool:
//   1. Generates a synthetic transaction history per user, a configurable
//      fraction of which exhibits rapid cash-out behavior
//   2. Ingests every transaction through POST /transactions
//   3. Evaluates the signal battery per user through POST /evaluate
//   4. Reports how many seeded rapid cash-out users were flagged
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// IngestRequest matches Kite's POST /transactions payload.
type IngestRequest struct {
	UserID       string `json:"user_id"`
	AccountID    string `json:"account_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	TimeOccurred int64  `json:"time_occurred"`
}

// EvaluateRequest matches Kite's POST /evaluate payload.
type EvaluateRequest struct {
	UserID      string           `json:"user_id"`
	AccountID   string           `json:"account_id"`
	RuleCutoffs map[string]int64 `json:"rule_cutoffs"`
}

// EvaluateResponse carries the signals this tool inspects.
type EvaluateResponse struct {
	ID                         string `json:"id"`
	UserID                     string `json:"user_id"`
	CountRapidWithdrawals30Day int64  `json:"count_rapid_withdrawals_30day"`
	CountRapidWithdrawals7Day  int64  `json:"count_rapid_withdrawals_7day"`
}

// userHistory is one user's seeded transaction stream.
type userHistory struct {
	UserID       string
	AccountID    string
	RapidCashOut bool
	Transactions []IngestRequest
}

const minorPerMajor = 10000

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kite base URL")
	tenantID := flag.String("tenant", "seed-test", "Tenant ID for requests")
	userCount := flag.Int("users", 100, "Number of users to seed")
	rapidFraction := flag.Float64("rapid", 0.2, "Fraction of users with rapid cash-out behavior")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed for reproducible histories")
	verbose := flag.Bool("verbose", false, "Print each evaluation result")
	flag.Parse()

	fmt.Println("Kite seed tool")
	fmt.Printf("  URL:            %s\n", *baseURL)
	fmt.Printf("  Tenant:         %s\n", *tenantID)
	fmt.Printf("  Users:          %d\n", *userCount)
	fmt.Printf("  Rapid fraction: %.2f\n", *rapidFraction)
	fmt.Printf("  Workers:        %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kite not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kite is running:")
		fmt.Println("  go run cmd/kite/main.go")
		os.Exit(1)
	}
	fmt.Println("Kite is healthy")

	rng := rand.New(rand.NewSource(*seed))
	users := generateHistories(rng, *userCount, *rapidFraction)

	total := 0
	for _, u := range users {
		total += len(u.Transactions)
	}
	fmt.Printf("Generated %d transactions for %d users\n\n", total, len(users))

	start := time.Now()
	flagged, missed, errs := run(users, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(start)

	seeded := 0
	for _, u := range users {
		if u.RapidCashOut {
			seeded++
		}
	}

	fmt.Println("\nResults")
	fmt.Printf("  Seeded rapid cash-out users: %d\n", seeded)
	fmt.Printf("  Flagged by battery:          %d\n", flagged)
	fmt.Printf("  Missed:                      %d\n", missed)
	fmt.Printf("  Errors:                      %d\n", errs)
	fmt.Printf("  Duration:                    %v\n", duration.Round(time.Millisecond))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateHistories builds per-user transaction streams. Every user gets a
// handful of ordinary deposits; rapid cash-out users additionally withdraw
// just under each deposit within a day of it landing.
func generateHistories(rng *rand.Rand, count int, rapidFraction float64) []userHistory {
	now := time.Now().UTC()
	users := make([]userHistory, 0, count)

	for i := 0; i < count; i++ {
		userID := fmt.Sprintf("seed-user-%04d", i)
		accountID := fmt.Sprintf("seed-acc-%04d", i)
		rapid := rng.Float64() < rapidFraction

		u := userHistory{
			UserID:       userID,
			AccountID:    accountID,
			RapidCashOut: rapid,
		}

		deposits := 3 + rng.Intn(5)
		for d := 0; d < deposits; d++ {
			amountMajor := int64(100 + rng.Intn(5000))
			amount := amountMajor * minorPerMajor
			occurred := now.Add(-time.Duration(rng.Intn(25*24)) * time.Hour)

			u.Transactions = append(u.Transactions, IngestRequest{
				UserID:       userID,
				AccountID:    accountID,
				Type:         "DEPOSIT",
				Amount:       amount,
				TimeOccurred: occurred.UnixMilli(),
			})

			if rapid {
				// Withdraw 96-100% of the deposit within a day
				withdrawal := amount - int64(rng.Intn(int(amount/25)+1))
				delay := time.Duration(1+rng.Intn(23)) * time.Hour

				u.Transactions = append(u.Transactions, IngestRequest{
					UserID:       userID,
					AccountID:    accountID,
					Type:         "WITHDRAWAL",
					Amount:       withdrawal,
					TimeOccurred: occurred.Add(delay).UnixMilli(),
				})
			}
		}

		users = append(users, u)
	}

	return users
}

func run(users []userHistory, baseURL, tenantID string, numWorkers int, verbose bool) (flagged, missed, errs int64) {
	work := make(chan userHistory, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for u := range work {
				if err := seedUser(client, baseURL, tenantID, u); err != nil {
					atomic.AddInt64(&errs, 1)
					if verbose {
						fmt.Printf("ERROR: %s ingest -> %v\n", u.UserID, err)
					}
					continue
				}

				result, err := evaluateUser(client, baseURL, tenantID, u)
				if err != nil {
					atomic.AddInt64(&errs, 1)
					if verbose {
						fmt.Printf("ERROR: %s evaluate -> %v\n", u.UserID, err)
					}
					continue
				}

				detected := result.CountRapidWithdrawals30Day > 0
				if u.RapidCashOut {
					if detected {
						atomic.AddInt64(&flagged, 1)
					} else {
						atomic.AddInt64(&missed, 1)
					}
				}

				if verbose {
					fmt.Printf("%-15s | seeded rapid: %-5v | 30day: %2d | 7day: %2d\n",
						u.UserID, u.RapidCashOut,
						result.CountRapidWithdrawals30Day, result.CountRapidWithdrawals7Day,
					)
				}
			}
		}()
	}

	for _, u := range users {
		work <- u
	}
	close(work)
	wg.Wait()

	return flagged, missed, errs
}

func seedUser(client *http.Client, baseURL, tenantID string, u userHistory) error {
	for _, tx := range u.Transactions {
		body, err := json.Marshal(tx)
		if err != nil {
			return err
		}

		req, err := http.NewRequest(http.MethodPost, baseURL+"/transactions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("ingest status %d", resp.StatusCode)
		}
	}
	return nil
}

func evaluateUser(client *http.Client, baseURL, tenantID string, u userHistory) (*EvaluateResponse, error) {
	body, err := json.Marshal(EvaluateRequest{
		UserID:      u.UserID,
		AccountID:   u.AccountID,
		RuleCutoffs: map[string]int64{},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluate status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}
