package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/certify-backend/internal/autosave"
	"github.com/stemsi/certify-backend/internal/client"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/logger"
	"github.com/stemsi/certify-backend/internal/model"
)

type selection struct {
	question uuid.UUID
	option   *uuid.UUID
}

func main() {
	var (
		base      string
		examArg   string
		student   string
		answers   string
		debounce  time.Duration
		typeDelay time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&examArg, "exam", "", "Exam ID")
	flag.StringVar(&student, "student", "", "Student ID (random when empty)")
	flag.StringVar(&answers, "answers", "", "Comma-separated question=option pairs; an empty option clears the question")
	flag.DurationVar(&debounce, "debounce", 300*time.Millisecond, "Autosave debounce")
	flag.DurationVar(&typeDelay, "delay", 100*time.Millisecond, "Pause between simulated clicks")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	examID, err := uuid.Parse(examArg)
	if err != nil {
		log.Fatal().Err(err).Msg("-exam must be a UUID")
	}
	studentID := uuid.New()
	if student != "" {
		if studentID, err = uuid.Parse(student); err != nil {
			log.Fatal().Err(err).Msg("-student must be a UUID")
		}
	}
	picks, err := parseAnswers(answers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -answers")
	}

	if err := run(context.Background(), log, base, examID, studentID, picks, debounce, typeDelay); err != nil {
		log.Error().Err(err).Msg("Simulation failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger, base string, examID, studentID uuid.UUID, picks []selection, debounce, delay time.Duration) error {
	c, err := client.New(client.Config{BaseURL: base, Timeout: 30 * time.Second})
	if err != nil {
		return err
	}

	attempt, err := c.CreateAttempt(ctx, examID, studentID)
	if err != nil {
		return err
	}
	log.Info().Str("attempt_id", attempt.ID.String()).Bool("simulator", attempt.IsSimulator).Msg("Attempt created")

	co := autosave.New(c, autosave.WithDebounce(debounce), autosave.WithLogger(log))
	defer co.Stop()

	for _, p := range picks {
		co.OnAnswerChanged(p.question, p.option)
		time.Sleep(delay)
	}
	if err := co.ForceFlush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	res, err := c.Grade(ctx, true)
	if err != nil {
		return err
	}
	if res.Status == model.GradeStatusDeferred {
		fmt.Printf("Attempt %s: grading deferred, answers not yet persisted\n", attempt.ID)
		return nil
	}

	a := res.Attempt
	fmt.Printf("Attempt %s: score %d%% passed=%t (correct %d, incorrect %d, unanswered %d)\n",
		a.ID, *a.Score, *a.Passed, *a.CorrectCount, *a.IncorrectCount, *a.UnansweredCount)

	fb, err := c.Feedback(ctx, attempt.ID)
	if err != nil {
		return err
	}
	for _, q := range fb.Questions {
		fmt.Printf("  %s  %-10s\n", q.QuestionID, q.Mark)
	}
	return nil
}

// parseAnswers reads "q1=o1,q2=,q3=o3".
func parseAnswers(raw string) ([]selection, error) {
	var out []selection
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		q, o, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q: expected question=option", pair)
		}
		qid, err := uuid.Parse(strings.TrimSpace(q))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pair, err)
		}
		sel := selection{question: qid}
		if o = strings.TrimSpace(o); o != "" {
			oid, err := uuid.Parse(o)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", pair, err)
			}
			sel.option = &oid
		}
		out = append(out, sel)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no answers given")
	}
	return out, nil
}
