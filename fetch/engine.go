// Package fetch downloads mod assets into the cache. An Engine retrieves one
// asset at a time; a Pool runs several download daemons over a Queue.
package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tts-cache/cachepath"
	"tts-cache/db"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	chunkSize       = 32 * 1024
	tempSuffix      = ".tmp"
)

var (
	ErrLocalhost   = errors.New("localhost URLs are not downloaded")
	ErrInvalidHost = errors.New("invalid hostname")
	ErrContentType = errors.New("unexpected content type")
	ErrRemoved     = errors.New("asset was removed by its host")
	ErrMismatch    = errors.New("length mismatch")
	ErrTimeout     = errors.New("timed out")
)

// HTTPError is a response status outside the 2xx range.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

func (e *HTTPError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Basenames hosts redirect to once an upload has been taken down.
var placeholders = map[string]bool{
	"removed.png": true,
}

// Content-Type prefixes accepted per class. Several hosts answer a vanished
// asset with an HTML page and status 200.
var allowedTypes = map[cachepath.Class][]string{
	cachepath.Model:       {"text/plain", "model/", "application/x-tgif", "application/octet-stream", "application/binary"},
	cachepath.AssetBundle: {"application/x-unity3d", "application/unity3d", "application/vnd.unity", "application/octet-stream", "application/binary"},
	cachepath.Audio:       {"audio/", "video/ogg", "application/ogg", "application/octet-stream", "application/binary"},
	cachepath.PDF:         {"application/pdf", "application/x-pdf", "application/octet-stream", "application/binary"},
	cachepath.Image:       {"image/", "video/", "application/octet-stream", "application/binary"},
	cachepath.Script: {"text/plain", "image/", "video/", "audio/", "model/", "application/ogg", "application/pdf", "application/x-pdf",
		"application/x-tgif", "application/x-unity3d", "application/unity3d", "application/vnd.unity", "application/octet-stream", "application/binary"},
}

var steamHashRe = regexp.MustCompile(`(?:^|[^0-9A-Fa-f])([0-9A-Fa-f]{40})(?:[^0-9A-Fa-f]|$)`)

// Options configures an Engine.
type Options struct {
	Root              string        // Cache root, the Mods directory
	Attempts          int           // Attempts per asset, including the first
	Timeout           time.Duration // Bound on connecting and on every body read
	IgnoreContentType bool
	UserAgent         string
	Client            *http.Client
	Observer          Observer
	NewBackOff        func() backoff.BackOff // Wait policy between attempts
	Log               *zap.SugaredLogger
}

// Engine downloads single assets. It is safe for concurrent use as long as
// no URL is fetched by two goroutines at once.
type Engine struct {
	opts Options
	log  *zap.SugaredLogger
}

// NewEngine validates opts and fills in defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("cache root is not configured")
	}
	if opts.UserAgent == "" {
		return nil, fmt.Errorf("USERAGENT is not configured")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Observer == nil {
		opts.Observer = func(Event) {}
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{opts: opts, log: log}, nil
}

// job is the state one Fetch keeps across its attempts.
type job struct {
	url      string
	target   *url.URL
	origin   cachepath.Class // Class of the reference, Script included
	class    cachepath.Class // Provisional concrete class, never Script
	stem     string
	dir      string // Holds the temporary file
	temp     string
	existing cachepath.Candidate
}

// Fetch downloads url, found at trail, into the cache. It returns an empty
// status on success, otherwise the reason of the terminal failure. The record
// always carries the URL and, on success, the final location and digest.
func (e *Engine) Fetch(ctx context.Context, rawURL string, trail []string) (string, db.AssetRecord) {
	rec := db.AssetRecord{URL: rawURL}
	e.emit(Event{Kind: EventInit, URL: rawURL})

	target, err := normalize(rawURL)
	if err == nil {
		err = e.retrieve(ctx, target, trail, &rec)
	}
	if err != nil {
		rec.Status = err.Error()
		e.log.Debugw("Download failed", zap.String("url", rawURL), zap.Error(err))
		e.emit(Event{Kind: EventError, URL: rawURL, Status: rec.Status})
		return rec.Status, rec
	}
	e.emit(Event{Kind: EventSuccess, URL: rawURL, Path: filepath.Join(e.opts.Root, rec.Dir, cachepath.Recode(rawURL)+rec.Ext), Size: rec.Size, Read: rec.Size})
	return "", rec
}

// normalize adds a missing scheme and rejects URLs that must never be
// requested.
func normalize(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHost, err)
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " _") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	if strings.EqualFold(host, "localhost") {
		return nil, ErrLocalhost
	}
	return u, nil
}

func (e *Engine) retrieve(ctx context.Context, target *url.URL, trail []string, rec *db.AssetRecord) error {
	class := cachepath.Classify(trail)
	j := &job{
		url:    rec.URL,
		target: target,
		origin: class,
		class:  cachepath.Concrete(class, rec.URL),
		stem:   cachepath.Recode(rec.URL),
	}
	if cand, ok := cachepath.FindCached(e.opts.Root, rec.URL, class); ok {
		j.existing = cand
	}
	j.dir = filepath.Join(e.opts.Root, j.class.Dir())
	j.temp = filepath.Join(j.dir, j.stem+tempSuffix)
	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory '%s': %w", j.dir, err)
	}

	attempt := 0
	op := func() error {
		attempt++
		return e.attempt(ctx, j, target.String(), attempt, rec)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.opts.NewBackOff(), uint64(e.opts.Attempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		e.log.Debugw("Retrying download", zap.String("url", rec.URL), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})

	// Trailing parameters are often expired session tokens.
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Code == http.StatusNotFound && target.RawQuery != "" {
		stripped := *target
		stripped.RawQuery = ""
		stripped.ForceQuery = false
		attempt++
		err = e.attempt(ctx, j, stripped.String(), attempt, rec)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	return err
}

// attempt performs one request. Terminal failures are wrapped with
// backoff.Permanent; everything else is retried.
func (e *Engine) attempt(ctx context.Context, j *job, u string, n int, rec *db.AssetRecord) error {
	e.emit(Event{Kind: EventStarting, URL: j.url, Attempt: n})

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(e.opts.Timeout, cancel)
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidHost, err))
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	var offset int64
	if info, err := os.Stat(j.temp); err == nil && info.Size() > 0 {
		offset = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := e.opts.Client.Do(req)
	if err != nil {
		return e.failure(ctx, reqCtx, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	watchdog.Reset(e.opts.Timeout)

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		os.Remove(j.temp)
		return fmt.Errorf("stale partial download: %w", &HTTPError{Code: resp.StatusCode})
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		offset = 0
	default:
		herr := &HTTPError{Code: resp.StatusCode}
		if herr.retryable() {
			return herr
		}
		return backoff.Permanent(herr)
	}

	if placeholders[strings.ToLower(path.Base(resp.Request.URL.Path))] {
		return backoff.Permanent(ErrRemoved)
	}

	contentType := resp.Header.Get("Content-Type")
	e.emit(Event{Kind: EventContentType, URL: j.url, Attempt: n, ContentType: contentType})
	if !e.opts.IgnoreContentType && !acceptable(j.origin, contentType) {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrContentType, contentType))
	}

	size := int64(-1)
	if resp.ContentLength >= 0 {
		size = offset + resp.ContentLength
	}
	e.emit(Event{Kind: EventFileSize, URL: j.url, Attempt: n, Size: size})
	resumable := resp.StatusCode == http.StatusPartialContent || strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	filename := dispositionFilename(resp.Header.Get("Content-Disposition"))
	class := j.resolve(filename, contentType)
	ext := j.extension(class, filename, contentType)
	dir := filepath.Join(e.opts.Root, class.Dir())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create cache directory '%s': %w", dir, err))
	}
	final := filepath.Join(dir, j.stem+ext)
	e.emit(Event{Kind: EventFilepath, URL: j.url, Attempt: n, Path: final})

	digest, written, err := e.stream(ctx, watchdog, j, resp.Body, offset, size, n)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: the partial file stays for a later resume.
			return backoff.Permanent(ctx.Err())
		}
		if !resumable {
			os.Remove(j.temp)
		}
		return e.failure(ctx, reqCtx, fmt.Errorf("partial read: %w", err))
	}
	if size >= 0 && written != size {
		if !resumable {
			os.Remove(j.temp)
		}
		return fmt.Errorf("%w: got %d of %d bytes", ErrMismatch, written, size)
	}

	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return backoff.Permanent(fmt.Errorf("failed to replace '%s': %w", final, err))
	}
	if j.existing.Complete() {
		if old := filepath.Join(e.opts.Root, j.existing.Path()); old != final {
			os.Remove(old)
		}
	}
	if err := os.Rename(j.temp, final); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to move download into place: %w", err))
	}
	info, err := os.Stat(final)
	if err != nil {
		return backoff.Permanent(err)
	}

	rec.Dir = class.Dir()
	rec.Ext = ext
	rec.Size = info.Size()
	rec.Mtime = info.ModTime().Unix()
	rec.ContentSHA1 = digest
	rec.DisplayName = filename
	rec.SteamSHA1 = steamHash(j.target, filename)
	return nil
}

// failure classifies a transport error. A cancelled caller is terminal, a
// tripped watchdog is a retryable timeout.
func (e *Engine) failure(ctx, reqCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if reqCtx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrTimeout, e.opts.Timeout)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrInvalidHost, dnsErr.Name))
	}
	return err
}

// stream appends body to the temporary file, hashing everything on disk.
func (e *Engine) stream(ctx context.Context, watchdog *time.Timer, j *job, body io.Reader, offset, size int64, n int) (string, int64, error) {
	h := sha1.New()
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		if err := hashPrefix(h, j.temp, offset); err != nil {
			return "", 0, err
		}
		flags = os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(j.temp, flags, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open '%s': %w", j.temp, err)
	}
	defer f.Close()

	written := offset
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", written, err
		}
		nr, rerr := body.Read(buf)
		if nr > 0 {
			if _, err := f.Write(buf[:nr]); err != nil {
				return "", written, fmt.Errorf("failed to write '%s': %w", j.temp, err)
			}
			h.Write(buf[:nr])
			written += int64(nr)
			watchdog.Reset(e.opts.Timeout)
			e.emit(Event{Kind: EventProgress, URL: j.url, Attempt: n, Read: written, Size: size})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", written, rerr
		}
	}
	if err := f.Close(); err != nil {
		return "", written, err
	}
	return hex.EncodeToString(h.Sum(nil)), written, nil
}

func hashPrefix(h hash.Hash, name string, n int64) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyN(h, f, n)
	return err
}

// resolve picks the class the download is stored as. A script reference is
// bound to a class by the first extension that names one: Content-Disposition,
// then the URL, then the Content-Type.
func (j *job) resolve(filename, contentType string) cachepath.Class {
	if j.origin != cachepath.Script {
		return j.class
	}
	for _, ext := range []string{path.Ext(filename), cachepath.URLExt(j.url), cachepath.ExtensionForMIME(contentType)} {
		if cand, ok := cachepath.ResolveFromExtension(j.url, ext); ok {
			return cand.Class
		}
	}
	return j.class
}

// extension picks the final extension: Content-Disposition, then an already
// cached copy, then the URL, then the Content-Type, then the class default.
func (j *job) extension(class cachepath.Class, filename, contentType string) string {
	sources := []func() string{
		func() string { return cachepath.NormalizeExt(path.Ext(filename)) },
		func() string { return j.existing.Ext },
		func() string { return cachepath.URLExt(j.url) },
		func() string { return cachepath.ExtensionForMIME(contentType) },
	}
	for _, src := range sources {
		if ext := src(); ext != "" && class.Knows(ext) {
			return class.Finish(ext)
		}
	}
	return class.Finish(class.DefaultExt())
}

func acceptable(c cachepath.Class, contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	if mt == "" {
		return true
	}
	for _, prefix := range allowedTypes[c] {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

// dispositionFilename returns the base filename a Content-Disposition header
// names, or "".
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(params["filename"])
	if name == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(name, `\`, "/"))
}

func isSteamHost(host string) bool {
	host = strings.ToLower(host)
	return strings.Contains(host, "steamusercontent") || strings.Contains(host, "steamuserimages")
}

// steamHash extracts the SHA1 the game's CDN embeds in its filenames.
func steamHash(u *url.URL, filename string) string {
	if u == nil || !isSteamHost(u.Hostname()) {
		return ""
	}
	for _, s := range []string{filename, u.Path} {
		if m := steamHashRe.FindStringSubmatch(s); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func (e *Engine) emit(ev Event) {
	e.opts.Observer(ev)
}
