// learnctl - операторская утилита для внутреннего gRPC API:
// ручная сверка платежа по checkout-сессии и внеочередной прогон сверки зависших платежей.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"coursemarket/internal/client"
	"coursemarket/pkg/logger"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "адрес gRPC сервера")
	timeout := flag.Duration("timeout", 30*time.Second, "таймаут вызова")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage:\n"+
			"  learnctl [flags] stale <older-than>\n"+
			"  learnctl [flags] checkout <user-id> <session-id>\n"+
			"  learnctl [flags] progress <student-id> <enrollment-id>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New("info", true, os.Stderr)
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.NewLearningClient(*addr)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case args[0] == "stale" && len(args) == 2:
		olderThan, err := time.ParseDuration(args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("bad duration")
		}
		n, err := c.ReconcileStale(ctx, olderThan)
		if err != nil {
			log.Fatal().Err(err).Msg("reconcile stale")
		}
		log.Info().Int("resolved", n).Msg("done")
	case args[0] == "checkout" && len(args) == 3:
		st, err := c.ReconcileCheckout(ctx, args[1], args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("reconcile checkout")
		}
		log.Info().Str("payment_id", st.PaymentID).Str("status", st.Status).Str("enrollment_id", st.EnrollmentID).Msg("done")
	case args[0] == "progress" && len(args) == 3:
		p, err := c.GetProgress(ctx, args[1], args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("get progress")
		}
		log.Info().Int64("completed", p.CompletedLessons).Int64("total", p.TotalLessons).
			Float64("percentage", p.ProgressPercentage).Msg("done")
	default:
		flag.Usage()
		os.Exit(2)
	}
}
