package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Lukman Hakim", "Maya Septiana", "Nanda Pratama",
	"Oki Setiana", "Putri Dian", "Qori Maharani", "Rafi Ahmad", "Siska Saraswati",
}

func main() {
	count := flag.Int("n", 50, "number of participants to seed")
	password := flag.String("password", "stemsijaya", "password shared by every seeded participant")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	fmt.Printf("=== Seeding %d Participants ===\n", *count)

	successCount := 0
	for i := 0; i < *count; i++ {
		user := &model.User{
			Username:     fmt.Sprintf("peserta%03d", i+1),
			Name:         names[i%len(names)],
			Role:         model.RoleParticipant,
			PasswordHash: string(hash),
		}
		if err := userRepo.Upsert(ctx, user); err != nil {
			fmt.Printf("Error creating participant %s: %v\n", user.Username, err)
			continue
		}
		successCount++
		if (i+1)%10 == 0 {
			fmt.Printf("Created %d participants...\n", i+1)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d participants.\n", successCount, *count)
}
