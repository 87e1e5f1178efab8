package curriculum

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/generation/normalize"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

// ManifestEntry describes one exported artifact.
type ManifestEntry struct {
	Key       string           `json:"key"`
	Status    artifacts.Status `json:"status"`
	Kind      artifacts.Kind   `json:"kind"`
	Attempts  int              `json:"attempts"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Manifest struct {
	Week         int             `json:"week"`
	ExportedAt   time.Time       `json:"exported_at"`
	Placeholders int             `json:"placeholders"`
	Artifacts    []ManifestEntry `json:"artifacts"`
}

// ExportFileName is the archive name for week.
func ExportFileName(week int) string {
	return fmt.Sprintf("LatinA_Week%02d.zip", week)
}

// ExportWeek packages every stored artifact of week into dir/LatinA_WeekNN.zip together
// with a manifest.json of statuses, and returns the archive path.
func (d *Driver) ExportWeek(ctx context.Context, week int, dir string) (string, error) {
	if err := checkWeek(week); err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("week%02d/", week)
	keys, err := d.store.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list week %d: %w", week, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("week %d: %w", week, pkgerrors.ErrNotFound)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	target := filepath.Join(dir, ExportFileName(week))
	tmp, err := os.CreateTemp(dir, ExportFileName(week)+".tmp-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	manifest := Manifest{Week: week, ExportedAt: time.Now().UTC(), Artifacts: []ManifestEntry{}}
	zw := zip.NewWriter(tmp)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", err
		}
		a, err := d.store.Read(ctx, key)
		if err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		body, err := artifactBody(a)
		if err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", err
		}
		if err := writeZipEntry(zw, key, a.UpdatedAt, body); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return "", err
		}
		if a.IsPlaceholder() {
			manifest.Placeholders++
		}
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{
			Key: a.Key, Status: a.Status, Kind: a.Kind, Attempts: a.Attempts, UpdatedAt: a.UpdatedAt,
		})
	}

	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = writeZipEntry(zw, prefix+"manifest.json", manifest.ExportedAt, append(mb, '\n'))
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	d.log.Info("week exported", "week", week, "path", target, "artifacts", len(manifest.Artifacts), "placeholders", manifest.Placeholders)
	return target, nil
}

func artifactBody(a artifacts.Artifact) ([]byte, error) {
	if a.Kind == artifacts.KindText {
		return []byte(a.Text), nil
	}
	b, err := normalize.Pretty(a.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Key, err)
	}
	return b, nil
}

func writeZipEntry(zw *zip.Writer, name string, modified time.Time, body []byte) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !modified.IsZero() {
		hdr.Modified = modified
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
