package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/database"
	"github.com/stemsi/certify-backend/internal/logger"
	"github.com/stemsi/certify-backend/internal/model"
	"github.com/stemsi/certify-backend/internal/repository"
	"github.com/stemsi/certify-backend/internal/service"
	"gopkg.in/yaml.v3"
)

// seedFile is the layout of an exams YAML file.
type seedFile struct {
	Settings map[string]string      `yaml:"settings"`
	Exams    []model.ExamDefinition `yaml:"exams"`
}

// target is where definitions are written.
type target interface {
	SaveExam(ctx context.Context, def *model.ExamDefinition) error
	UpsertSetting(ctx context.Context, key, value string) error
}

// invalidator drops cached exam data after a write.
type invalidator interface {
	Invalidate(ctx context.Context, examID uuid.UUID) error
}

type pgTarget struct {
	*repository.ExamRepository
	*repository.SettingRepository
}

func main() {
	var path string
	flag.StringVar(&path, "file", "exams.yaml", "Path to the exam definitions file")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to read exam definitions")
	}
	file, err := parseSeedFile(data)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Invalid exam definitions")
	}

	var (
		dst   target
		cache invalidator
	)
	switch cfg.DBDriver {
	case config.DriverSQLite:
		db, err := database.NewSQLiteDB(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite")
		}
		defer db.Close()
		dst = repository.NewSQLiteStore(db)
	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		examRepo := repository.NewExamRepository(pool)
		dst = pgTarget{ExamRepository: examRepo, SettingRepository: repository.NewSettingRepository(pool)}

		// Stale answer keys would otherwise be served until their TTL expires.
		if rdb, err := database.NewRedisClient(ctx, cfg, log); err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, cached answer keys are not invalidated")
		} else {
			defer rdb.Close()
			cache = repository.NewCachedExamCatalog(examRepo, rdb, cfg.AnswerKeyCacheTTL, log)
		}
	}

	if err := seed(ctx, dst, cache, file); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Printf("Seeded %d exam(s) and %d setting(s)\n", len(file.Exams), len(file.Settings))
}

// parseSeedFile decodes and validates the file. Missing ids are derived
// from titles and positions so re-running the seeder updates in place.
func parseSeedFile(data []byte) (*seedFile, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if raw, ok := file.Settings[model.SettingPassThreshold]; ok {
		if _, err := service.ParseThreshold(raw); err != nil {
			return nil, fmt.Errorf("setting %s=%q: %w", model.SettingPassThreshold, raw, err)
		}
	}

	for i := range file.Exams {
		exam := &file.Exams[i]
		if exam.Title == "" {
			return nil, fmt.Errorf("exam #%d: title is required", i+1)
		}
		if exam.ID == uuid.Nil {
			exam.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("certify:exam:"+exam.Title))
		}
		if len(exam.Questions) == 0 {
			return nil, fmt.Errorf("exam %q: at least one question is required", exam.Title)
		}
		for qi := range exam.Questions {
			q := &exam.Questions[qi]
			if q.ID == uuid.Nil {
				q.ID = uuid.NewSHA1(exam.ID, []byte(fmt.Sprintf("question:%d", qi)))
			}
			correct := 0
			for oi := range q.Options {
				o := &q.Options[oi]
				if o.ID == uuid.Nil {
					o.ID = uuid.NewSHA1(q.ID, []byte(fmt.Sprintf("option:%d", oi)))
				}
				if o.Correct {
					correct++
				}
			}
			if len(q.Options) < 2 || correct != 1 {
				return nil, fmt.Errorf("exam %q question #%d: need at least two options and exactly one correct", exam.Title, qi+1)
			}
		}
	}
	return &file, nil
}

func seed(ctx context.Context, dst target, cache invalidator, file *seedFile) error {
	for key, value := range file.Settings {
		if err := dst.UpsertSetting(ctx, key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	for i := range file.Exams {
		exam := &file.Exams[i]
		if err := dst.SaveExam(ctx, exam); err != nil {
			return fmt.Errorf("exam %q: %w", exam.Title, err)
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, exam.ID); err != nil {
				return fmt.Errorf("invalidate exam %q: %w", exam.Title, err)
			}
		}
	}
	return nil
}
