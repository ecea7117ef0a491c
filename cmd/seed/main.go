package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/log"
	"github.com/ucwatch/ucwatch/pkg/storage"
	"github.com/ucwatch/ucwatch/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	referenceMonth := time.Now().Format("2006-01")

	clients := []struct {
		name     string
		document string
		ucs      int
	}{
		{"Fazenda Árvore Alta", "12.345.678/0001-90", 3},
		{"Condomínio Solar Leste", "98.765.432/0001-10", 5},
		{"Mercado São João", "123.456.789-00", 1},
		{"Padaria Águia Dourada", "987.654.321-00", 2},
		{"Oficina Três Irmãos", "45.678.912/0001-33", 4},
	}

	fptr := func(v float64) *float64 { return &v }
	iptr := func(v int) *int { return &v }

	seeded := 0
	for ci, c := range clients {
		for u := 0; u < c.ucs; u++ {
			rec := types.UCRecord{
				UC:             fmt.Sprintf("UC-%d%03d", ci+1, u+1),
				ClientName:     c.name,
				DocumentID:     c.document,
				ReferenceMonth: referenceMonth,
				PlantID:        fmt.Sprintf("plant-%d", ci+1),
				Inverter:       fmt.Sprintf("inv-%d-%d", ci+1, u+1),
				MonthlyTarget:  fptr(500 + rng.Float64()*1500),
			}

			// mix of healthy, zero-injection and missing readings
			switch roll := rng.Float64(); {
			case roll < 0.6:
				rec.Injected = fptr(100 + rng.Float64()*900)
				rec.ReadingDays = iptr(28 + rng.Intn(5))
			case roll < 0.8:
				rec.Injected = fptr(0)
				rec.ReadingDays = iptr(30)
			default:
				// no reading arrived for this UC
			}

			// occasionally push the reading period out of band
			if rec.ReadingDays != nil && rng.Float64() < 0.2 {
				if rng.Float64() < 0.5 {
					rec.ReadingDays = iptr(24 + rng.Intn(3))
				} else {
					rec.ReadingDays = iptr(34 + rng.Intn(4))
				}
			}

			if err := s.UpsertUCRecord(ctx, rec); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed uc record", "error", err)
				os.Exit(1)
			}
			seeded++

			injected := "n/a"
			if rec.Injected != nil {
				injected = fmt.Sprintf("%.1f", *rec.Injected)
			}
			days := "n/a"
			if rec.ReadingDays != nil {
				days = fmt.Sprintf("%d", *rec.ReadingDays)
			}
			fmt.Printf("Seeded %s for %s (injected: %s, readingDays: %s)\n", rec.UC, rec.ClientName, injected, days)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully", "records", seeded)
}
