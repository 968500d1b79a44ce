package main

import (
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/poiesic/kbsync/config"
	"github.com/poiesic/kbsync/staging"
)

// seedDocument is one file to drop into intake.
type seedDocument struct {
	Name string
	Body string
}

var samples = []seedDocument{
	{
		Name: "runbooks/rotate-signing-keys",
		Body: `# Rotating the API signing keys

Signing keys are rotated every ninety days, or immediately after a suspected
leak. Rotation is a two-phase change so that tokens minted with the old key
stay valid until they expire.

## Before you start

Confirm that the secrets store is reachable from the bastion host and that
you hold the key-admin role. Announce the rotation in the operations channel
with the expected start time. Pause the ingest workers, because they cache
the verification keys for up to ten minutes and will reject fresh tokens
while the cache is stale.

## Phase one: publish the new key

Generate the new key pair with the keytool wrapper and upload the public half
to the verification set. At this point both keys verify, and only the old key
signs. Wait for every API replica to report the new key id on its health
endpoint before moving on.

## Phase two: switch signing

Flip the active signing key id in the service config and roll the API
deployment. Tokens issued from now on carry the new key id. Keep the old
public key in the verification set for at least the maximum token lifetime,
which is twenty-four hours.

## Cleanup

Remove the old public key from the verification set, resume the ingest
workers and record the rotation date in the key register.
`,
	},
	{
		Name: "runbooks/restore-from-snapshot",
		Body: `# Restoring the document store from a snapshot

Use this procedure when the primary document store is corrupted or a bad
migration has to be rolled back. Expect thirty to sixty minutes of read-only
mode, depending on snapshot size.

## Pick the snapshot

Snapshots are taken hourly and kept for fourteen days. List them with the
storage CLI and pick the newest one that predates the incident. Note its id
in the incident ticket.

## Restore

Put the API into read-only mode, then start the restore job with the chosen
snapshot id. The job writes into a fresh volume, so the damaged volume stays
available for forensics. When the job reports success, repoint the store at
the new volume and leave read-only mode.

## Verify

Run the consistency checker against the restored store and compare document
counts with the last good metrics sample. Any gap means writes landed after
the snapshot and must be replayed from the change log.
`,
	},
	{
		Name: "faq/vector-search",
		Body: `# Vector search FAQ

## Why does a query return nothing?

Results farther than the distance cutoff are dropped. A query that shares no
vocabulary or meaning with the stored chunks can come back empty even though
the collection is large. Rephrase the question with terms the documents use.

## Why did my edit not show up?

Edits are picked up by the next prep pass. Until the changed document has
been chunked, embedded and written to the local store, searches see the old
chunks.

## Can I search the remote store directly?

No. Retrieval reads the local store. The remote copy exists for other
consumers and is kept in step by the sync job.
`,
	},
	{
		Name: "onboarding/first-week",
		Body: `# Your first week on the platform team

Welcome aboard. This page lists what to set up and whom to meet.

## Accounts

Request access to the source host, the secrets store and the on-call pager
through the access portal. Approvals usually land within a day.

## Rituals

The team meets for planning on Monday and for an incident review on Thursday.
Read the last three incident write-ups before your first review.
`,
	},
}

var (
	sourceDir  = flag.String("src", "", "directory of .md or .txt files to seed instead of the built-in samples")
	configPath = flag.String("config", "", "path to the kbsync config file")
	subdir     = flag.String("dir", "seed", "subdirectory of intake to write into")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

// documentsFromDir returns an iterator over the text files directly in dir.
func documentsFromDir(dir string) (iter.Seq2[seedDocument, error], error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	return func(yield func(seedDocument, error) bool) {
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || (ext != ".md" && ext != ".txt") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			doc := seedDocument{Name: strings.TrimSuffix(e.Name(), ext), Body: string(data)}
			if !yield(doc, err) {
				return
			}
		}
	}, nil
}

func documentsFromSlice(docs []seedDocument) iter.Seq2[seedDocument, error] {
	return func(yield func(seedDocument, error) bool) {
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// slug turns a name into a path-safe, lower-case form. Slashes are kept so
// names can place documents in subdirectories.
func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-/")
}

// seedDocuments writes each non-empty document to intake/<dir>/<slug>.md and
// returns how many were written.
func seedDocuments(area *staging.Area, dir string, docs iter.Seq2[seedDocument, error]) (int, error) {
	written := 0
	for doc, err := range docs {
		if err != nil {
			return written, err
		}
		if strings.TrimSpace(doc.Body) == "" {
			slog.Warn("skipping empty document", "name", doc.Name)
			continue
		}
		name := slug(doc.Name)
		if name == "" {
			name = fmt.Sprintf("doc-%03d", written+1)
		}

		p := area.IntakePath(filepath.Join(dir, name+".md"))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return written, err
		}
		if err := os.WriteFile(p, []byte(doc.Body), 0644); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func main() {
	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		panic(err)
	}
	area, err := staging.Open(cfg.Staging.Root)
	if err != nil {
		panic(err)
	}

	source := documentsFromSlice(samples)
	if *sourceDir != "" {
		source, err = documentsFromDir(*sourceDir)
		if err != nil {
			panic(err)
		}
	}

	n, err := seedDocuments(area, *subdir, source)
	if err != nil {
		panic(err)
	}
	slog.Info("seeded intake", "documents", n, "root", area.Root())
}
