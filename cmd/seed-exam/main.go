package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/DeepStacker/dsba-lms-sub001/internal/config"
	"github.com/DeepStacker/dsba-lms-sub001/internal/database"
	"github.com/DeepStacker/dsba-lms-sub001/internal/logger"
	"github.com/DeepStacker/dsba-lms-sub001/internal/model"
	"github.com/google/uuid"
)

// Seeds one published exam with a small mixed question set. Intended for
// local development and the e2e suite, never for production data.
func main() {
	var (
		title    string
		duration int
		windowHr int
	)
	flag.StringVar(&title, "title", "Sample Proctored Exam", "Exam title")
	flag.IntVar(&duration, "duration", 60, "Attempt duration in minutes")
	flag.IntVar(&windowHr, "window", 4, "Join window length in hours from now")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examID := uuid.New()
	startsAt := time.Now()
	endsAt := startsAt.Add(time.Duration(windowHr) * time.Hour)

	_, err = pool.Exec(ctx,
		`INSERT INTO exams (id, title, duration_minutes, starts_at, ends_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		examID, title, duration, startsAt, endsAt, model.ExamStatusPublished,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert exam")
	}

	questions := []struct {
		kind    model.QuestionKind
		content string
	}{
		{model.QuestionMCQ, `{"prompt":"Which layer does TCP live in?","options":["application","transport","network","link"]}`},
		{model.QuestionMSQ, `{"prompt":"Select the idempotent HTTP methods.","options":["GET","POST","PUT","DELETE"]}`},
		{model.QuestionTrueFalse, `{"prompt":"A Redis hash field overwrite is atomic."}`},
		{model.QuestionNumeric, `{"prompt":"How many bits in an IPv4 address?"}`},
		{model.QuestionDescriptive, `{"prompt":"Explain optimistic concurrency control in two sentences."}`},
		{model.QuestionCoding, `{"prompt":"Write a function that reverses a slice in place.","languages":["go","python"]}`},
	}

	for i, q := range questions {
		_, err = pool.Exec(ctx,
			`INSERT INTO questions (id, exam_id, kind, position, content)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), examID, q.kind, i+1, []byte(q.content),
		)
		if err != nil {
			log.Fatal().Err(err).Int("position", i+1).Msg("Failed to insert question")
		}
	}

	fmt.Printf("Seeded exam %s (%d questions, window until %s)\n",
		examID, len(questions), endsAt.Format(time.RFC3339))
}
