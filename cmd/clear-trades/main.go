// clear-trades - delete today's paper trading activity and start fresh.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nitinkhare/cryptoswing/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	confirmFlag := flag.Bool("confirm", false, "confirm deletion (must be explicit)")
	flag.Parse()

	if !*confirmFlag {
		fmt.Println("SAFETY CHECK - must confirm deletion")
		fmt.Println()
		fmt.Println("This will DELETE all holdings, trade history, watchlist entries, and")
		fmt.Println("order executions created TODAY:")
		fmt.Println()
		fmt.Printf("Date: %s\n", time.Now().UTC().Format("2006-01-02"))
		fmt.Println()
		fmt.Println("To proceed, run:")
		fmt.Println("  go run ./cmd/clear-trades --confirm")
		fmt.Println()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	fmt.Printf("Deleting today's data: %s\n\n", today)

	deletions := []struct {
		label string
		query string
	}{
		{"holdings", `DELETE FROM holdings WHERE DATE(buy_date) = $1`},
		{"trading_history", `DELETE FROM trading_history WHERE DATE(sell_date) = $1`},
		{"watchlist_history", `DELETE FROM watchlist_history WHERE DATE(analyzed_date) = $1`},
		{"performance_tracker", `DELETE FROM performance_tracker WHERE DATE(created_at) = $1`},
		{"holding_decisions", `DELETE FROM holding_decisions WHERE DATE(created_at) = $1`},
		{"order_executions", `DELETE FROM order_executions WHERE DATE(created_at) = $1`},
	}

	for _, d := range deletions {
		result, err := db.Exec(d.query, today)
		if err != nil {
			log.Fatalf("failed to delete %s: %v", d.label, err)
		}
		n, _ := result.RowsAffected()
		fmt.Printf("  deleted %d rows from %s\n", n, d.label)
	}

	fmt.Println()
	fmt.Println("Clean slate ready. You can now run:")
	fmt.Println("  go run ./cmd/engine --mode cycle")
	fmt.Println()
}
