// Package publish turns a finished entry set into the on-disk artifacts
// (registry JSON plus manifest) and optionally commits and pushes them.
// Validation runs before anything touches disk, and all file writes go
// through a temp-file-plus-rename so a crash never leaves a half-written
// artifact behind.
package publish

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"git.home.luguber.info/inful/themeindex/internal/errors"
	"git.home.luguber.info/inful/themeindex/internal/logfields"
	"git.home.luguber.info/inful/themeindex/internal/registry"
)

//go:embed schema.json
var registrySchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(registrySchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("registry.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("register embedded schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("registry.schema.json")
	})
	return schema, schemaErr
}

// ValidateArtifact checks the encoded artifact against the registry schema.
func ValidateArtifact(artifact []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal, "registry schema unusable")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(artifact))
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.SeverityError, "artifact is not valid JSON")
	}
	if err := sch.Validate(inst); err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.SeverityError, "artifact failed schema validation")
	}
	return nil
}

// Result reports what a publication attempt produced.
type Result struct {
	Artifact []byte
	Manifest *registry.Manifest
	// Changed is true when the artifact checksum differs from the previous
	// manifest's checksum. It gates the git commit/push step.
	Changed bool
}

// Publisher writes the registry artifact and its manifest.
type Publisher struct {
	outputPath   string
	manifestPath string
	now          func() time.Time
}

// New returns a publisher targeting the given artifact and manifest paths.
func New(outputPath, manifestPath string) *Publisher {
	return &Publisher{outputPath: outputPath, manifestPath: manifestPath, now: time.Now}
}

// Write encodes, validates, and atomically writes the entry set plus its
// manifest. Validation failure leaves any previously published files intact.
func (p *Publisher) Write(entries []*registry.ThemeEntry) (*Result, error) {
	artifact, err := registry.EncodeArtifact(entries)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryPublish, errors.SeverityFatal, "failed to encode artifact")
	}
	if err := ValidateArtifact(artifact); err != nil {
		return nil, err
	}

	manifest := registry.NewManifest(artifact, filepath.Base(p.outputPath), len(entries), p.now())
	prev := p.previousManifest()
	changed := prev == nil || manifest.SHA256 != prev.SHA256
	if !changed {
		// identical content keeps the previous generation stamp so repeated
		// runs produce byte-identical manifests
		manifest.GeneratedAt = prev.GeneratedAt
	}

	if err := writeFileAtomic(p.outputPath, artifact); err != nil {
		return nil, errors.Wrap(err, errors.CategoryPublish, errors.SeverityFatal, "failed to write artifact").
			WithContext("path", p.outputPath)
	}
	manifestBytes, err := manifest.Encode()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryPublish, errors.SeverityFatal, "failed to encode manifest")
	}
	if err := writeFileAtomic(p.manifestPath, manifestBytes); err != nil {
		return nil, errors.Wrap(err, errors.CategoryPublish, errors.SeverityFatal, "failed to write manifest").
			WithContext("path", p.manifestPath)
	}

	slog.Info("Wrote registry artifacts",
		logfields.Path(p.outputPath),
		logfields.Count(len(entries)),
		slog.String("sha256", manifest.SHA256),
		slog.Bool("changed", changed))
	return &Result{Artifact: artifact, Manifest: manifest, Changed: changed}, nil
}

// previousManifest reads the manifest recorded by the last successful run.
// Any read or decode problem means "no previous run", which makes the next
// publication count as a change.
func (p *Publisher) previousManifest() *registry.Manifest {
	data, err := os.ReadFile(p.manifestPath)
	if err != nil {
		return nil
	}
	m, err := registry.DecodeManifest(data)
	if err != nil {
		slog.Warn("Previous manifest unreadable, treating artifact as changed",
			logfields.Path(p.manifestPath), logfields.Error(err))
		return nil
	}
	return m
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place. The parent directory is created if needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
