package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/pkg/geocode"
)

var (
	geocodeOut         string
	geocodeConcurrency int
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode the addresses of the fetched contacts",
	Long: "Fetches the contacts (reusing the checkpoint when it is complete), geocodes the primary " +
		"address of every active contact through the Google Geocoding API and writes the results as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Geocode.GoogleAPIKey == "" {
			return eris.New("geocode.google_api_key is required (CRM_GEOCODE_GOOGLE_API_KEY)")
		}

		env, err := initPipeline(ctx, pipelineOverrides{})
		if err != nil {
			return err
		}
		defer env.Close()

		cp, err := env.Fetcher.Fetch(ctx)
		if err != nil {
			return err
		}

		cachePath := cfg.Geocode.CachePath
		if err := ensureDir(cachePath); err != nil {
			return err
		}
		ttl := time.Duration(cfg.Geocode.CacheTTLDays) * 24 * time.Hour
		cache, err := geocode.NewSQLiteCache(ctx, cachePath, ttl)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		concurrency := cfg.Geocode.Concurrency
		if geocodeConcurrency > 0 {
			concurrency = geocodeConcurrency
		}
		client := geocode.NewClient(
			geocode.WithGoogleAPIKey(cfg.Geocode.GoogleAPIKey),
			geocode.WithRateLimit(cfg.Geocode.RateLimit),
			geocode.WithRegion(cfg.Geocode.Region),
			geocode.WithConcurrency(concurrency),
			geocode.WithCache(cache),
		)

		located, err := geocodeContacts(ctx, client, cp.Records)
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if geocodeOut != "" {
			f, err := os.Create(geocodeOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", geocodeOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(located); err != nil {
			return eris.Wrap(err, "encode geocode results")
		}

		matched, failed := countLocated(located)
		fmt.Fprintf(os.Stderr, "Geocoded %d contact(s): %d matched, %d unmatched, %d failed\n",
			len(located), matched, len(located)-matched-failed, failed)
		return nil
	},
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeOut, "out", "", "write results to this JSON file instead of stdout")
	geocodeCmd.Flags().IntVar(&geocodeConcurrency, "concurrency", 0, "parallel geocode requests (overrides geocode.concurrency)")
	rootCmd.AddCommand(geocodeCmd)
}

// locatedContact pairs a contact with the geocoding result of its primary
// address.
type locatedContact struct {
	RecordID string         `json:"record_id"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Result   geocode.Result `json:"result"`
}

// geocodeContacts geocodes the primary address of every active contact that
// has one. Contacts sharing an address cost a single lookup.
func geocodeContacts(ctx context.Context, client geocode.Client, records []model.Record) ([]locatedContact, error) {
	var (
		contacts []model.Record
		queries  []string
	)
	for _, r := range records {
		if r.Archived {
			continue
		}
		addr := firstAddress(r)
		if addr == "" {
			continue
		}
		contacts = append(contacts, r)
		queries = append(queries, addr)
	}
	if len(queries) == 0 {
		return []locatedContact{}, nil
	}

	zap.L().Info("geocoding contact addresses", zap.Int("contacts", len(queries)))
	results, err := client.BatchGeocode(ctx, queries)
	if err != nil {
		return nil, eris.Wrap(err, "geocode contacts")
	}

	out := make([]locatedContact, len(contacts))
	for i, r := range contacts {
		out[i] = locatedContact{
			RecordID: r.ID,
			Name:     r.Name,
			Address:  queries[i],
			Result:   results[i],
		}
	}
	return out, nil
}

// firstAddress returns the first non-blank address as entered.
func firstAddress(r model.Record) string {
	for _, a := range r.Addresses {
		if a = strings.TrimSpace(a); a != "" {
			return a
		}
	}
	return ""
}

func countLocated(located []locatedContact) (matched, failed int) {
	for _, l := range located {
		switch {
		case l.Result.Err != "":
			failed++
		case l.Result.Matched:
			matched++
		}
	}
	return matched, failed
}
