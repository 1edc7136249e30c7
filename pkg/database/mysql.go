package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS community_members (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			community_id BIGINT NOT NULL,
			vk_user_id BIGINT NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			can_receive BOOLEAN NOT NULL DEFAULT FALSE,
			last_sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_members_community_user (community_id, vk_user_id),
			INDEX idx_members_sendable (community_id, is_active, can_receive)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS community_tokens (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			community_id BIGINT NOT NULL,
			access_token VARCHAR(255) NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_tokens_community (community_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS broadcast_campaigns (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			community_id BIGINT NOT NULL,
			message TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			total_recipients INT NOT NULL DEFAULT 0,
			sent_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			scheduled_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_campaigns_status (status),
			INDEX idx_campaigns_due (status, scheduled_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS broadcast_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			campaign_id BIGINT NOT NULL,
			recipient_id BIGINT NOT NULL,
			outcome VARCHAR(10) NOT NULL,
			error_message TEXT,
			sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uq_logs_campaign_recipient (campaign_id, recipient_id),
			INDEX idx_logs_campaign (campaign_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS scheduled_posts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			community_id BIGINT NOT NULL,
			text TEXT NOT NULL,
			attachments TEXT,
			scheduled_at DATETIME NOT NULL,
			published_at DATETIME,
			vk_post_id BIGINT,
			status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			game_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			game_attempts INT NOT NULL DEFAULT 0,
			game_lives INT NOT NULL DEFAULT 0,
			game_prize_keyword VARCHAR(255) NOT NULL DEFAULT '',
			game_promo_codes TEXT NOT NULL,
			broadcast_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			broadcast_message TEXT,
			broadcast_delay_minutes INT,
			broadcast_scheduled_at DATETIME,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_posts_due (status, scheduled_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS post_game_settings (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			post_id BIGINT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			attempts INT NOT NULL DEFAULT 0,
			lives INT NOT NULL DEFAULT 0,
			prize_keyword VARCHAR(255) NOT NULL DEFAULT '',
			promo_codes TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uq_game_settings_post (post_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

func SeedTestData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM community_members")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d members, skipping seed", count)
		return nil
	}

	const communityID = 211001234

	if _, err := db.Exec(
		"INSERT INTO community_tokens (community_id, access_token) VALUES (?, ?)",
		communityID, "vk1.a.test-community-token",
	); err != nil {
		return fmt.Errorf("failed to seed community token: %w", err)
	}

	testMembers := []struct {
		vkUserID   int64
		name       string
		canReceive bool
	}{
		{101000001, "Anna Petrova", true},
		{101000002, "Boris Ivanov", true},
		{101000003, "Vera Sokolova", true},
		{101000004, "Grigory Smirnov", false},
		{101000005, "Daria Kuznetsova", true},
		{101000006, "Egor Popov", true},
		{101000007, "Zhanna Lebedeva", true},
		{101000008, "Ivan Kozlov", false},
		{101000009, "Ksenia Novikova", true},
		{101000010, "Leonid Morozov", true},
	}

	for _, m := range testMembers {
		_, err := db.Exec(
			"INSERT INTO community_members (community_id, vk_user_id, name, is_active, can_receive) VALUES (?, ?, ?, TRUE, ?)",
			communityID, m.vkUserID, m.name, m.canReceive,
		)
		if err != nil {
			return fmt.Errorf("failed to seed test data: %w", err)
		}
	}

	logger.Infof("Seeded %d test members for community %d", len(testMembers), communityID)
	return nil
}
