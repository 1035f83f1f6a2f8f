// Command locktool inspects a focus-lock database from the command line:
// recent acquisitions, recent samples, and per-acquisition lock statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/arcus-instruments/focuslock/internal/lockdb"
)

func main() {
	var dbPath string
	var nSamples int
	var nAcqs int
	var statsID string

	flag.StringVar(&dbPath, "db", "focuslock.db", "path to the lock database")
	flag.IntVar(&nSamples, "samples", 0, "print the N most recent lock samples")
	flag.IntVar(&nAcqs, "acquisitions", 0, "print the N most recent acquisitions")
	flag.StringVar(&statsID, "stats", "", "print offset statistics for one acquisition ID")
	flag.Parse()

	if nSamples <= 0 && nAcqs <= 0 && statsID == "" {
		flag.Usage()
		os.Exit(2)
	}

	db, err := lockdb.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if nAcqs > 0 {
		recs, err := db.Acquisitions(nAcqs)
		if err != nil {
			log.Fatalf("list acquisitions: %v", err)
		}
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tFINAL Z\tSCAN\tOFFSETS")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%v\t%s\n",
				r.ID, r.StartedAt.Format(time.RFC3339),
				r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond),
				r.FinalCoarseZ, r.ZScanMode, r.ZOffsets)
		}
	}

	if nSamples > 0 {
		samples, err := db.RecentSamples(nSamples)
		if err != nil {
			log.Fatalf("list samples: %v", err)
		}
		fmt.Fprintln(w, "AT\tACQUISITION\tGOOD\tOFFSET\tSUM")
		for _, s := range samples {
			fmt.Fprintf(w, "%s\t%s\t%v\t%.4f\t%.1f\n",
				s.At.Format(time.RFC3339Nano), s.AcquisitionID, s.IsGood, s.Offset, s.Sum)
		}
	}

	if statsID != "" {
		samples, err := db.AcquisitionSamples(statsID)
		if err != nil {
			log.Fatalf("load samples for %s: %v", statsID, err)
		}
		var offsets []float64
		good := 0
		for _, s := range samples {
			if s.IsGood {
				offsets = append(offsets, s.Offset)
				good++
			}
		}
		fmt.Fprintf(w, "acquisition %s: %d samples, %d good\n", statsID, len(samples), good)
		if len(offsets) > 0 {
			mean, std := stat.MeanStdDev(offsets, nil)
			fmt.Fprintf(w, "offset mean %.4f um, stddev %.4f um\n", mean, std)
		}
	}
}
