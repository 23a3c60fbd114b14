package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// mockStore implements Store, recording the uploaded image dimensions.
type mockStore struct {
	uploads int
	width   int
	height  int
	err     error
}

func (m *mockStore) Upload(ctx context.Context, path string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.uploads++
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return "", err
	}
	m.width = cfg.Width
	m.height = cfg.Height
	return "http://store/processed.jpg", nil
}

// testPNG returns encoded PNG bytes of the given size.
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("temporaries survived the call: %v", names)
	}
}

func TestWorker_Transform(t *testing.T) {
	img := testPNG(t, 100, 60)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := &mockStore{}
	worker := New(store, Config{WorkDir: dir, ScalePercent: 50, Quality: 50}, nil)

	url, err := worker.Transform(context.Background(), srv.URL+"/a.png", "image-1-0")
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if url != "http://store/processed.jpg" {
		t.Errorf("Transform() url = %q", url)
	}
	if store.uploads != 1 {
		t.Errorf("uploads = %d, want 1", store.uploads)
	}
	if store.width != 50 || store.height != 30 {
		t.Errorf("stored dimensions = %dx%d, want 50x30", store.width, store.height)
	}
	assertNoLeftovers(t, dir)
}

func TestWorker_Transform_FetchErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "not found is permanent", status: http.StatusNotFound, wantTransient: false},
		{name: "server error is transient", status: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			dir := t.TempDir()
			worker := New(&mockStore{}, Config{WorkDir: dir}, nil)

			_, err := worker.Transform(context.Background(), srv.URL+"/a.png", "image-1-0")
			if err == nil {
				t.Fatal("Transform() error = nil, want fetch error")
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("Transform() error = %T, want *StageError", err)
			}
			if se.Stage != StageFetch {
				t.Errorf("Stage = %q, want fetch", se.Stage)
			}
			if se.Transient != tt.wantTransient {
				t.Errorf("Transient = %v, want %v", se.Transient, tt.wantTransient)
			}
			assertNoLeftovers(t, dir)
		})
	}
}

func TestWorker_Transform_DecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not an image"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	worker := New(&mockStore{}, Config{WorkDir: dir}, nil)

	_, err := worker.Transform(context.Background(), srv.URL+"/a.png", "image-1-0")
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Transform() error = %v, want *StageError", err)
	}
	if se.Stage != StageRecompress {
		t.Errorf("Stage = %q, want recompress", se.Stage)
	}
	if se.Transient {
		t.Error("decode failure marked transient")
	}
	assertNoLeftovers(t, dir)
}

func TestWorker_Transform_StoreFailure(t *testing.T) {
	img := testPNG(t, 10, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := &mockStore{err: errors.New("upload refused")}
	worker := New(store, Config{WorkDir: dir}, nil)

	_, err := worker.Transform(context.Background(), srv.URL+"/a.png", "image-1-0")
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Transform() error = %v, want *StageError", err)
	}
	if se.Stage != StageStore {
		t.Errorf("Stage = %q, want store", se.Stage)
	}
	assertNoLeftovers(t, dir)
}

func TestWorker_Transform_MinimumDimension(t *testing.T) {
	// 1x1 source must not scale to zero.
	img := testPNG(t, 1, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	store := &mockStore{}
	worker := New(store, Config{WorkDir: t.TempDir()}, nil)

	if _, err := worker.Transform(context.Background(), srv.URL+"/a.png", "image-1-0"); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if store.width != 1 || store.height != 1 {
		t.Errorf("stored dimensions = %dx%d, want 1x1", store.width, store.height)
	}
}
