package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/aloy/roommate-booking/internal/services"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// bookingTables are truncated by -clear-data, children first
var bookingTables = []string{
	"booking_audit_logs",
	"payments",
	"roommate_group_members",
	"roommate_groups",
}

func main() {
	var (
		dbURLFlag string
		clearData bool
		timeout   time.Duration
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.BoolVar(&clearData, "clear-data", false, "Truncate groups, payments and audit logs instead of running maintenance (development only)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time for the maintenance run")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Optional .env so secrets stay off the command line
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if clearData {
		if os.Getenv("ENVIRONMENT") == "production" {
			logger.Fatal("refusing to clear data in production")
		}
		clearBookingData(db, logger)
		return
	}

	publisher, err := events.NewPublisher(os.Getenv("RABBITMQ_URL"), getEnv("EVENTS_EXCHANGE", "booking.events"), logger)
	if err != nil {
		logger.Fatalf("failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	bookingCfg := config.BookingConfig{
		PaymentPendingTTL: 30 * time.Minute,
	}
	if ttl, err := time.ParseDuration(os.Getenv("PAYMENT_PENDING_TTL")); err == nil {
		bookingCfg.PaymentPendingTTL = ttl
	}

	paymentRepository := database.NewPaymentRepository(db.DB)
	coordinator := services.NewBookingCoordinatorService(
		database.NewRoommateGroupRepository(db.DB),
		database.NewApartmentRepository(db.DB),
		publisher,
		logger,
	)
	cronService := services.NewCronService(paymentRepository, coordinator, bookingCfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := cronService.RunOnce(ctx)
	if result != nil {
		fmt.Printf("Payments expired:  %d\n", result.PaymentsExpired)
		fmt.Printf("Groups cancelled:  %d\n", result.GroupsCancelled)
	}
	if err != nil {
		logger.Fatalf("maintenance run failed: %v", err)
	}
}

func clearBookingData(db *database.PostgresDB, logger *logrus.Logger) {
	logger.Info("Truncating booking tables...")

	query := "TRUNCATE TABLE "
	for i, t := range bookingTables {
		if i > 0 {
			query += ", "
		}
		query += t
	}
	// Apartments and users are owned by the listing service and stay put
	if _, err := db.Exec(query + " RESTART IDENTITY"); err != nil {
		logger.Fatalf("failed to truncate tables: %v", err)
	}
	if _, err := db.Exec(`UPDATE apartments SET booked = FALSE, status = 'AVAILABLE', updated_at = NOW()`); err != nil {
		logger.Fatalf("failed to reset apartments: %v", err)
	}

	fmt.Println("Post-clear row counts:")
	for _, t := range bookingTables {
		var count int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err != nil {
			fmt.Printf("  %s: error: %v\n", t, err)
			continue
		}
		fmt.Printf("  %s: %d\n", t, count)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
