package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/alertmed/scheduling/internal/auth"
	"github.com/alertmed/scheduling/internal/config"
	"github.com/alertmed/scheduling/internal/db"
	"github.com/alertmed/scheduling/internal/logging"
)

const (
	hospitalCount = 5
	doctorCount   = 60
	patientCount  = 3000
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("seed only supports the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	hospitals, err := seedUsers(ctx, pool, log, auth.RoleHospital, hospitalCount, func() string {
		return faker.City() + " " + faker.RandomString([]string{"General Hospital", "Clinic", "Medical Center"})
	}, faker)
	if err != nil {
		log.Fatal().Err(err).Msg("seed hospitals")
	}

	doctors, err := seedUsers(ctx, pool, log, auth.RoleDoctor, doctorCount, func() string {
		return "Dr. " + faker.Name()
	}, faker)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}

	if _, err := seedUsers(ctx, pool, log, auth.RolePatient, patientCount, faker.Name, faker); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	if err := seedAffiliations(ctx, pool, log, hospitals, doctors, faker); err != nil {
		log.Fatal().Err(err).Msg("seed affiliations")
	}

	log.Info().Msg("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, role auth.Role, count int, name func() string, faker *gofakeit.Faker) ([]uuid.UUID, error) {
	log.Info().Str("role", string(role)).Int("count", count).Msg("seeding users")

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name(), faker.Email(), string(role))
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, fmt.Errorf("insert %s: %w", role, err)
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Debug().Str("role", string(role)).Msgf("users seeded: %d/%d", end, count)
	}

	return ids, nil
}

// seedAffiliations puts every doctor in one hospital and some in a second one.
func seedAffiliations(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, hospitals, doctors []uuid.UUID, faker *gofakeit.Faker) error {
	if len(hospitals) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	links := 0
	for i, doctor := range doctors {
		primary := hospitals[i%len(hospitals)]
		targets := []uuid.UUID{primary}
		if len(hospitals) > 1 && faker.Bool() {
			second := hospitals[faker.Number(0, len(hospitals)-1)]
			if second != primary {
				targets = append(targets, second)
			}
		}

		for _, hospital := range targets {
			_, err := tx.Exec(ctx, `
				INSERT INTO hospital_doctors (hospital_id, doctor_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, hospital, doctor)
			if err != nil {
				return err
			}
			links++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("links", links).Msg("affiliations seeded")
	return nil
}
