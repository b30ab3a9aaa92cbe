package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/docvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-f string   files root directory (local backend)
//	-t string   temp directory for OCR plaintext (ideally tmpfs)
//	-s string   master secret for the crypto envelope
//	-m int      max upload size, MiB
//	-a string   comma-separated MIME allow-list (empty = allow all)
//	-l string   OCR language hint (e.g. "deu+eng")
//	-r int      trash retention, days
//	-p int      purge interval, hours
//	-k string   storage backend: "local" or "s3"
//	-u string   S3 root user
//	-w string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g. "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-d", "-f", "-t", "-s", "-m", "-a", "-l", "-r", "-p", "-k",
		"-u", "-w", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.FilesDir, "f", config.FilesDir, "files root directory")
	fs.StringVar(&config.TempDir, "t", config.TempDir, "OCR temp directory")
	fs.StringVar(&config.MasterSecret, "s", config.MasterSecret, "master secret")

	maxUploadMB := fs.Int("m", int(config.MaxUploadBytes>>20), "max upload size (MiB)")
	fs.StringVar(&config.AllowedMime, "a", config.AllowedMime, "comma-separated MIME allow-list")
	fs.StringVar(&config.OCRLanguages, "l", config.OCRLanguages, "OCR language hint")

	retentionDays := fs.Int("r", config.TrashRetentionDays, "trash retention (days)")
	purgeHours := fs.Int("p", int(config.PurgeInterval.Hours()), "purge interval (hours)")

	fs.StringVar(&config.StorageBackend, "k", config.StorageBackend, "storage backend (local|s3)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "w", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MaxUploadBytes = int64(*maxUploadMB) << 20
	config.TrashRetentionDays = *retentionDays
	config.PurgeInterval = time.Duration(*purgeHours) * time.Hour
}
