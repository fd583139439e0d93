// history-recovery reconstructs GoPanelGuard job history from backups already
// delivered to S3. Useful after losing the history store while the bucket
// still holds every artifact.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

var (
	dryRun  = flag.Bool("dry-run", false, "Scan and report without writing history")
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	force   = flag.Bool("force", false, "Rebuild even if history already has records")
	merge   = flag.Bool("merge", false, "Merge with existing history instead of refusing")

	// Delivered objects live under <prefix>/by-panel/<panel>/<database>/<filename>
	timestampPattern = regexp.MustCompile(`(\d{8})[_-](\d{6})`)
)

// recoveredArtifact is one delivered backup found in the bucket
type recoveredArtifact struct {
	PanelName string
	Database  string
	Filename  string
	Key       string
	Size      int64
	ModTime   time.Time
}

func main() {
	flag.Parse()

	config.LoadConfiguration()

	if config.CFG.Delivery.S3.Bucket == "" {
		log.Fatal("S3 delivery is not configured; nothing to recover from")
	}

	if err := history.Initialize(); err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}

	existing, err := history.DefaultStore.GetJobs(history.Filter{})
	if err != nil {
		log.Fatalf("Failed to read existing history: %v", err)
	}
	if len(existing) > 0 && !*force && !*merge {
		log.Printf("Found existing history with %d records. Use -force to rebuild or -merge to merge.", len(existing))
		os.Exit(0)
	}

	log.Println("Starting history recovery from S3...")

	artifacts, err := scanBucket()
	if err != nil {
		log.Fatalf("Failed to scan bucket: %v", err)
	}
	log.Printf("Found %d delivered backups in s3://%s", len(artifacts), config.CFG.Delivery.S3.Bucket)

	existingKeys := make(map[string]bool)
	if *merge {
		for _, rec := range existing {
			existingKeys[rec.DeliveryRef] = true
		}
	}

	recovered := 0
	for _, a := range artifacts {
		// Delivery receipts store the bare object key as the ref
		if existingKeys[a.Key] {
			if *verbose {
				log.Printf("Skipping already-recorded artifact: %s", a.Key)
			}
			continue
		}

		rec := buildRecord(a, a.Key)
		if *dryRun {
			log.Printf("Would record: %s/%s %s (%d bytes)", a.PanelName, a.Database, a.Filename, a.Size)
			recovered++
			continue
		}

		if err := history.DefaultStore.Record(rec); err != nil {
			log.Printf("Failed to record %s: %v", a.Key, err)
			continue
		}
		recovered++
	}

	if *dryRun {
		log.Printf("Dry run completed: %d records would be written", recovered)
		return
	}
	log.Printf("Recovery completed: %d records written", recovered)
}

// scanBucket lists every delivered backup under the configured prefix
func scanBucket() ([]recoveredArtifact, error) {
	cfg := config.CFG.Delivery.S3

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		),
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	svc := s3.New(sess)

	prefix := path.Join(cfg.Prefix, "by-panel") + "/"
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(prefix),
	}

	var artifacts []recoveredArtifact
	err = svc.ListObjectsV2Pages(params, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := *obj.Key

			rel := strings.TrimPrefix(key, prefix)
			parts := strings.SplitN(rel, "/", 3)
			if len(parts) != 3 {
				if *verbose {
					log.Printf("Skipping object outside the by-panel layout: %s", key)
				}
				continue
			}

			artifacts = append(artifacts, recoveredArtifact{
				PanelName: parts[0],
				Database:  parts[1],
				Filename:  parts[2],
				Key:       key,
				Size:      *obj.Size,
				ModTime:   *obj.LastModified,
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error listing S3 objects: %w", err)
	}

	return artifacts, nil
}

// buildRecord synthesizes a succeeded job record for a delivered backup
func buildRecord(a recoveredArtifact, ref string) jobs.Record {
	createdAt := a.ModTime
	if m := timestampPattern.FindStringSubmatch(a.Filename); m != nil {
		if t, err := time.ParseInLocation("20060102 150405", m[1]+" "+m[2], time.Local); err == nil {
			createdAt = t
		}
	}

	return jobs.Record{
		ID:             uuid.NewString(),
		PanelName:      a.PanelName,
		Database:       a.Database,
		Trigger:        jobs.TriggerScheduled,
		State:          jobs.StateSucceeded,
		CreatedAt:      createdAt,
		CompletedAt:    a.ModTime,
		ArtifactName:   a.Filename,
		ArtifactSize:   a.Size,
		DeliveryStatus: jobs.DeliverySuccess,
		DeliveryRef:    ref,
		Transitions: []jobs.Transition{
			{State: jobs.StateSucceeded, At: a.ModTime},
		},
	}
}
