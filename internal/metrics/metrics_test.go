package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := New("ios")
	r.CacheHit("zlib", 3)
	r.Built("png", 2, 1500*time.Millisecond)
	r.Built("png", 1, time.Second)
	r.Failed("ssl")
	r.Published(2)
	r.Removed("/out/old")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cache hits", testutil.ToFloat64(r.cacheHits.WithLabelValues("zlib")), 3},
		{"built archs", testutil.ToFloat64(r.builds.WithLabelValues("png")), 3},
		{"failures", testutil.ToFloat64(r.failures.WithLabelValues("ssl")), 1},
		{"published", testutil.ToFloat64(r.published), 2},
		{"removed", testutil.ToFloat64(r.removed), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if n := testutil.CollectAndCount(r.buildDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestWriteFile(t *testing.T) {
	r := New("linux")
	r.Built("zlib", 1, time.Second)
	path := filepath.Join(t.TempDir(), "vbuild.prom")
	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`vbuild_built_archs_total{platform="linux",vendor="zlib"} 1`,
		`vbuild_build_duration_seconds_count{platform="linux",vendor="zlib"} 1`,
		`# TYPE vbuild_published_archs_total counter`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
