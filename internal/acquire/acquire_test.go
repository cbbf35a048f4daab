package acquire

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adamancini/modrunner/internal/platform"
	"github.com/adamancini/modrunner/internal/transport"
	"github.com/adamancini/modrunner/internal/version"
)

var testKey = platform.DetectFor("linux", "amd64", "311")

const baseName = "Kuaishou"

// fakeTransport scripts the module server.
type fakeTransport struct {
	update      *transport.UpdateInfo
	updateErr   error
	link        *transport.DownloadLink
	linkErr     error
	content     []byte
	downloadErr error
	// beforeDownload runs at the start of Download.
	beforeDownload func()

	checks    int
	links     int
	downloads int
	// current is the installed version sent with the last update check.
	current   string
}

func (f *fakeTransport) CheckUpdate(ctx context.Context, base string, key platform.Key, current string) (*transport.UpdateInfo, error) {
	f.checks++
	f.current = current
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.update == nil {
		return &transport.UpdateInfo{}, nil
	}
	return f.update, nil
}

func (f *fakeTransport) RequestDownloadLink(ctx context.Context, base string, key platform.Key) (*transport.DownloadLink, error) {
	f.links++
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	if f.link == nil {
		return &transport.DownloadLink{URL: "http://files.test/a.so"}, nil
	}
	return f.link, nil
}

func (f *fakeTransport) Download(ctx context.Context, url, dest string) (string, error) {
	f.downloads++
	if f.beforeDownload != nil {
		f.beforeDownload()
	}
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if err := os.WriteFile(dest, f.content, 0644); err != nil {
		return "", err
	}
	return dest, nil
}

type fixture struct {
	dir   string
	path  string
	store *version.Store
	fake  *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir:   dir,
		path:  filepath.Join(dir, testKey.Filename(baseName)),
		store: version.NewStore(dir, zap.NewNop()),
		fake:  &fakeTransport{content: []byte("new artifact")},
	}
}

func (f *fixture) orchestrator(p Policy) *Orchestrator {
	return New(f.dir, testKey, f.fake, f.store, p, zap.NewNop())
}

func (f *fixture) writeLocal(t *testing.T, content, ver string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0644))
	if ver != "" {
		require.True(t, f.store.Save(version.Info{Version: ver}))
	}
}

func (f *fixture) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	return string(data)
}

func fileExistsT(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NO_LOCAL_FILE", StateNoLocalFile.String())
	assert.Equal(t, "RESOLVED", StateResolved.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestFirstDownloadFromServer(t *testing.T) {
	// End to end with the real transport: 200-byte artifact, version 1.0.0.
	payload := bytes.Repeat([]byte{0xAB}, 200)
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/system/download.php":
			_, _ = w.Write([]byte(`{"success": true, "data": {"download_url": "` + server.URL + `/files/a.so", "version_info": {"version": "1.0.0"}}}`))
		case "/files/a.so":
			w.Header().Set("Content-Length", "200")
			_, _ = w.Write(payload)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := newFixture(t)
	client := transport.New(transport.Options{
		BaseURL:             server.URL,
		DownloadEndpoint:    "/api/system/download.php",
		CheckUpdateEndpoint: "/api/system/check_update.php",
		RetryDelay:          time.Millisecond,
	}, zap.NewNop())

	res, err := New(f.dir, testKey, client, f.store, DefaultPolicy(), zap.NewNop()).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, f.path, res.Path)
	assert.True(t, res.Downloaded)
	assert.Equal(t, []State{StateNoLocalFile, StateDownloading, StateResolved}, res.Trace)

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Len(t, data, 200)
	assert.False(t, fileExistsT(f.path+".tmp"))

	info, ok := f.store.Load()
	require.True(t, ok)
	assert.Equal(t, "1.0.0", info.Version)
}

func TestNoLocalFileLinkFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.linkErr = errors.New("connection refused")

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, f.fake.downloads)
	assert.False(t, fileExistsT(f.path))
}

func TestNoLocalFileDownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.downloadErr = transport.ErrChecksum

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, transport.ErrChecksum)
	assert.Equal(t, StateFailed, res.State)
	_, saved := f.store.Load()
	assert.False(t, saved, "no version record without an artifact")
}

func TestNoUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: false, LatestVersion: "1.0.0"}
	o := f.orchestrator(DefaultPolicy())

	for i := 0; i < 2; i++ {
		res, err := o.Acquire(context.Background(), baseName)
		require.NoError(t, err)
		assert.Equal(t, f.path, res.Path)
		assert.False(t, res.Updated)
		assert.Equal(t, []State{StateLocalPresent, StateCheckingUpdate, StateResolved}, res.Trace)
	}

	assert.Equal(t, "v1", f.content(t))
	assert.Equal(t, 0, f.fake.links)
	assert.Equal(t, 0, f.fake.downloads)
	assert.Equal(t, "1.0.0", f.store.CurrentVersion())
}

func TestCheckFailureUsesLocalCopy(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.updateErr = context.DeadlineExceeded

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, f.path, res.Path)
	assert.Equal(t, "v1", f.content(t))
	assert.Equal(t, 0, f.fake.downloads)
}

func TestCheckTimeoutAgainstSlowServer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")

	client := transport.New(transport.Options{
		BaseURL:             server.URL,
		CheckUpdateEndpoint: "/api/system/check_update.php",
		Timeout:             50 * time.Millisecond,
	}, zap.NewNop())

	res, err := New(f.dir, testKey, client, f.store, DefaultPolicy(), zap.NewNop()).Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.Equal(t, f.path, res.Path)
	assert.Equal(t, "v1", f.content(t))
}

func TestUpdateSuccess(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true, LatestVersion: "1.1.0"}
	f.fake.link = &transport.DownloadLink{URL: "http://files.test/a.so", Version: version.Info{Version: "1.1.0"}}

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	assert.True(t, res.Updated)
	assert.Equal(t, "1.1.0", res.Version)
	assert.Equal(t, []State{StateLocalPresent, StateCheckingUpdate, StateBackingUp, StateDownloading, StateReplacing, StateResolved}, res.Trace)
	assert.Equal(t, "new artifact", f.content(t))
	assert.False(t, fileExistsT(f.path+".backup"), "backup must be deleted after success")
	assert.False(t, fileExistsT(f.path+".tmp"))
	assert.Equal(t, "1.1.0", f.store.CurrentVersion())
}

func TestUpdateRecordsAnnouncedVersion(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true, LatestVersion: "1.2.0"}
	f.fake.link = &transport.DownloadLink{URL: "http://files.test/a.so"}
	o := f.orchestrator(DefaultPolicy())

	res, err := o.Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, "1.2.0", res.Version)
	assert.Equal(t, "1.2.0", f.store.CurrentVersion())

	// The next check reports the recorded version, so the server has
	// nothing newer to offer.
	f.fake.update = &transport.UpdateInfo{HasUpdate: false, LatestVersion: "1.2.0"}
	res, err = o.Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", f.fake.current)
	assert.False(t, res.Updated)
	assert.Equal(t, 1, f.fake.downloads)
}

func TestUpdateSuccessKeepsBackup(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true}

	p := DefaultPolicy()
	p.DeleteBackupAfterSuccess = false

	_, err := f.orchestrator(p).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	backupData, err := os.ReadFile(f.path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backupData))
	assert.Equal(t, "new artifact", f.content(t))

	// The next start finds both files and leaves the retained backup alone.
	f.fake.update = &transport.UpdateInfo{}
	_, err = f.orchestrator(p).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	backupData, err = os.ReadFile(f.path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backupData))
	assert.Equal(t, "new artifact", f.content(t))
}

func TestUpdateFailureRestoresBackup(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true, LatestVersion: "1.1.0"}
	f.fake.downloadErr = transport.ErrChecksum

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	assert.Equal(t, StateResolved, res.State)
	assert.False(t, res.Updated)
	assert.Equal(t, f.path, res.Path)
	assert.Equal(t, "v1", f.content(t))
	assert.False(t, fileExistsT(f.path+".backup"))
	assert.False(t, fileExistsT(f.path+".tmp"))
	assert.Equal(t, "1.0.0", f.store.CurrentVersion())
}

func TestUpdateFailureWithoutBackup(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true}
	f.fake.downloadErr = errors.New("reset by peer")

	p := DefaultPolicy()
	p.BackupOldFiles = false

	res, err := f.orchestrator(p).Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.NotContains(t, res.Trace, StateBackingUp)
	assert.Equal(t, f.path, res.Path)
	assert.Equal(t, "v1", f.content(t))
}

func TestUpdateLinkFailureUsesLocalCopy(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true}
	f.fake.linkErr = transport.ErrNotFound

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.NoError(t, err)
	assert.Equal(t, f.path, res.Path)
	assert.Equal(t, 0, f.fake.downloads)
	assert.False(t, fileExistsT(f.path+".backup"))
}

func TestUpdateInterruptedRestoresAndReports(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "v1", "1.0.0")
	f.fake.update = &transport.UpdateInfo{HasUpdate: true}
	f.fake.downloadErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	f.fake.beforeDownload = cancel

	res, err := f.orchestrator(DefaultPolicy()).Acquire(ctx, baseName)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "v1", f.content(t), "backup restored before reporting the interrupt")
}

func TestAutoUpdateDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.AutoUpdate = false

	t.Run("local present", func(t *testing.T) {
		f := newFixture(t)
		f.writeLocal(t, "v1", "")
		res, err := f.orchestrator(p).Acquire(context.Background(), baseName)
		require.NoError(t, err)
		assert.Equal(t, f.path, res.Path)
		assert.Equal(t, 0, f.fake.checks)
	})

	t.Run("local absent", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.orchestrator(p).Acquire(context.Background(), baseName)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 0, f.fake.links)
	})
}

func TestRecoversLeftoverFiles(t *testing.T) {
	f := newFixture(t)
	// An interrupted update left only the backup and a staging file.
	require.NoError(t, os.WriteFile(f.path+".backup", []byte("v1"), 0644))
	require.NoError(t, os.WriteFile(f.path+".tmp", []byte("partial"), 0644))

	res, err := f.orchestrator(DefaultPolicy()).Acquire(context.Background(), baseName)
	require.NoError(t, err)

	assert.Equal(t, StateLocalPresent, res.Trace[0])
	assert.Equal(t, "v1", f.content(t))
	assert.False(t, fileExistsT(f.path+".backup"))
	assert.False(t, fileExistsT(f.path+".tmp"))
	assert.Equal(t, 0, f.fake.downloads)
}

func TestListArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.so", "a.so", "notes.txt", "c.pyc"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.so"), 0755))

	names, err := ListArtifacts(dir, ".so")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.so", "b.so"}, names)
}

func TestResultString(t *testing.T) {
	res := &Result{Path: "/opt/Kuaishou.pyc", State: StateResolved, Downloaded: true, Version: "1.2.0"}
	assert.Equal(t, "/opt/Kuaishou.pyc (resolved)\ndownloaded version 1.2.0", res.String())

	res = &Result{Path: "/opt/Kuaishou.pyc", State: StateResolved}
	assert.Contains(t, res.String(), "local version unknown")
}
