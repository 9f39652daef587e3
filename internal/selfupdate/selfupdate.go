package selfupdate

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/dustin/go-humanize"

	"github.com/reynalivan/emm-core/internal/fsutil"
)

// A lone sha256 hex digest, used to validate user supplied checksums and the
// hash column of checksum manifests.
var checksumPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

const DefaultBinaryTemplate = "emm-core_{os}_{arch}"

const (
	// ErrUnsupportedArch is returned on architectures no release is built for.
	ErrUnsupportedArch = errors.Sentinel("selfupdate: unsupported architecture")

	// ErrChecksumNotFound is returned when the checksum manifest of a release
	// has no entry for the selected binary.
	ErrChecksumNotFound = errors.Sentinel("selfupdate: checksum not found for binary")

	// ErrChecksumRequired is returned for direct URL downloads that supply no
	// checksum while verification is enabled.
	ErrChecksumRequired = errors.Sentinel("selfupdate: checksum required for direct download")
)

type ReleaseInfo struct {
	TagName string         `json:"tag_name"`
	Assets  []ReleaseAsset `json:"assets"`
}

type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// HTTPError represents a non-successful HTTP response from an upstream service.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("selfupdate: unexpected HTTP status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// DetermineBinaryName expands the asset name template for the current
// platform. The placeholders "{os}" and "{arch}" are replaced with the runtime
// values, and windows names get an .exe suffix when the template carries none.
// An empty template falls back to DefaultBinaryTemplate.
func DetermineBinaryName(template string) (string, error) {
	if template == "" {
		template = DefaultBinaryTemplate
	}
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return "", ErrUnsupportedArch
	}

	name := strings.NewReplacer("{os}", runtime.GOOS, "{arch}", runtime.GOARCH).Replace(template)
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}
	return name, nil
}

func FetchLatestReleaseInfo(ctx context.Context, owner string, repo string) (ReleaseInfo, error) {
	return fetchRelease(ctx, fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", owner, repo))
}

func FetchReleaseByTag(ctx context.Context, owner string, repo string, tag string) (ReleaseInfo, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ReleaseInfo{}, errors.New("selfupdate: release tag is required")
	}
	return fetchRelease(ctx, fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/tags/%s", owner, repo, tag))
}

func fetchRelease(ctx context.Context, apiURL string) (ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return ReleaseInfo{}, errors.WithStackIf(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return ReleaseInfo{}, errors.WithStackIf(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return ReleaseInfo{}, &HTTPError{StatusCode: res.StatusCode, URL: req.URL.String()}
	}

	var release ReleaseInfo
	if err := json.NewDecoder(res.Body).Decode(&release); err != nil {
		return ReleaseInfo{}, errors.Wrap(err, "selfupdate: decoding release metadata")
	}
	return release, nil
}

// UpdateFromGitHub downloads the release binary matching the current platform,
// verifies it against the release checksum manifest and swaps it in for the
// running executable. The name of the installed asset is returned.
func UpdateFromGitHub(ctx context.Context, owner string, repo string, release ReleaseInfo, binaryTemplate string, skipChecksum bool) (string, error) {
	staging, err := os.MkdirTemp("", "emm-update-*")
	if err != nil {
		return "", errors.Wrap(err, "selfupdate: creating staging directory")
	}
	defer os.RemoveAll(staging)

	preferred, err := DetermineBinaryName(binaryTemplate)
	if err != nil {
		return "", err
	}
	binary, err := selectBinaryAsset(release.Assets, preferred, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}

	var manifestPath string
	if skipChecksum {
		fmt.Println("Warning: checksum verification disabled; proceeding without verification.")
	} else {
		// Releases built by goreleaser publish a single checksums.txt; honor
		// a differently named manifest asset when the release carries one.
		manifestURL := fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/checksums.txt", owner, repo, release.TagName)
		if manifest := selectChecksumsAsset(release.Assets); manifest != nil && manifest.BrowserDownloadURL != "" {
			manifestURL = manifest.BrowserDownloadURL
		}
		manifestPath = filepath.Join(staging, "checksums.txt")
		if err := downloadWithProgress(ctx, manifestURL, manifestPath); err != nil {
			return "", errors.Wrap(err, "selfupdate: downloading checksum manifest")
		}
	}

	binaryPath := filepath.Join(staging, filepath.Base(binary.Name))
	if err := downloadWithProgress(ctx, binary.BrowserDownloadURL, binaryPath); err != nil {
		return "", errors.Wrap(err, "selfupdate: downloading binary")
	}

	if !skipChecksum {
		expected, err := findChecksum(manifestPath, binary.Name)
		if err != nil {
			return "", err
		}
		if err := verifyChecksumMatch(binaryPath, expected); err != nil {
			return "", err
		}
	}

	if err := replaceCurrentBinary(binaryPath); err != nil {
		return "", err
	}
	return binary.Name, nil
}

// selectBinaryAsset picks the release asset to install. An exact match on the
// preferred name wins, then a case-insensitive substring match, and as a last
// resort any asset naming both platform tokens, with plain binaries ranked
// above archives.
func selectBinaryAsset(assets []ReleaseAsset, preferred string, osToken string, arch string) (ReleaseAsset, error) {
	if preferred != "" {
		for _, a := range assets {
			if a.Name == preferred {
				return a, nil
			}
		}
		hint := strings.ToLower(preferred)
		for _, a := range assets {
			if strings.Contains(strings.ToLower(a.Name), hint) {
				return a, nil
			}
		}
	}

	best, bestRank := ReleaseAsset{}, -1
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if !strings.Contains(name, osToken) || !strings.Contains(name, arch) {
			continue
		}
		if strings.Contains(name, "checksum") || strings.Contains(name, "sha") || strings.Contains(name, ".sig") {
			continue
		}
		if r := packagingRank(name); bestRank == -1 || r < bestRank {
			best, bestRank = a, r
		}
	}
	if bestRank == -1 {
		return ReleaseAsset{}, errors.Errorf("selfupdate: no release asset for %s/%s", osToken, arch)
	}
	return best, nil
}

func selectChecksumsAsset(assets []ReleaseAsset) *ReleaseAsset {
	for _, wanted := range []string{"checksums", "sha256sum", "checksum", "sha256"} {
		for _, a := range assets {
			if strings.Contains(strings.ToLower(a.Name), wanted) {
				a := a
				return &a
			}
		}
	}
	return nil
}

// packagingRank orders candidate assets by how much unpacking they would
// need, lower is better.
func packagingRank(name string) int {
	switch {
	case strings.Contains(name, ".tar."):
		return 3
	case strings.HasSuffix(name, ".gz") || strings.HasSuffix(name, ".xz") || strings.HasSuffix(name, ".zip"):
		return 2
	case strings.Contains(name, "/"):
		return 1
	}
	return 0
}

// UpdateFromURL downloads a binary from the given URL and swaps it in for the
// running executable. Unless skipChecksum is set the download is verified
// against expectedChecksum, which is then required.
func UpdateFromURL(ctx context.Context, downloadURL string, binaryName string, expectedChecksum string, skipChecksum bool) error {
	staging, err := os.MkdirTemp("", "emm-update-url-*")
	if err != nil {
		return errors.Wrap(err, "selfupdate: creating staging directory")
	}
	defer os.RemoveAll(staging)

	binaryPath := filepath.Join(staging, binaryName)
	if err := downloadWithProgress(ctx, downloadURL, binaryPath); err != nil {
		return errors.Wrap(err, "selfupdate: downloading binary")
	}

	if skipChecksum {
		fmt.Println("Warning: checksum verification disabled; proceeding without verification.")
	} else {
		if expectedChecksum == "" {
			return ErrChecksumRequired
		}
		if !checksumPattern.MatchString(expectedChecksum) {
			return errors.Errorf("selfupdate: invalid checksum format: %s", expectedChecksum)
		}
		if err := verifyChecksumMatch(binaryPath, strings.ToLower(expectedChecksum)); err != nil {
			return err
		}
	}
	return replaceCurrentBinary(binaryPath)
}

func downloadWithProgress(ctx context.Context, downloadURL string, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return errors.WithStackIf(err)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: res.StatusCode, URL: downloadURL}
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer out.Close()

	if res.ContentLength > 0 {
		fmt.Printf("Downloading %s (%s)...\n", filepath.Base(dest), humanize.IBytes(uint64(res.ContentLength)))
	} else {
		fmt.Printf("Downloading %s...\n", filepath.Base(dest))
	}

	meter := &progressMeter{out: out, total: res.ContentLength}
	if _, err := io.Copy(meter, res.Body); err != nil {
		return errors.WithStackIf(err)
	}
	fmt.Println()
	return nil
}

// findChecksum reads a sha256sum style manifest and returns the digest
// recorded for the named asset. Lines are "<digest>  <name>", with an optional
// asterisk marking binary mode on the name.
func findChecksum(checksumPath string, assetName string) (string, error) {
	f, err := os.Open(checksumPath)
	if err != nil {
		return "", errors.WithStackIf(err)
	}
	defer f.Close()

	base := filepath.Base(assetName)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !checksumPattern.MatchString(fields[0]) {
			continue
		}
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		if name == assetName || filepath.Base(name) == base {
			return strings.ToLower(fields[0]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.WithStackIf(err)
	}
	return "", ErrChecksumNotFound
}

func verifyChecksumMatch(binaryPath string, expectedChecksum string) error {
	f, err := os.Open(binaryPath)
	if err != nil {
		return errors.WithStackIf(err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.WithStackIf(err)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != expectedChecksum {
		return errors.Errorf("selfupdate: checksum mismatch, expected %s got %s", expectedChecksum, sum)
	}
	fmt.Println("Checksum verified.")
	return nil
}

func replaceCurrentBinary(binaryPath string) error {
	if err := os.Chmod(binaryPath, 0o755); err != nil {
		return errors.Wrap(err, "selfupdate: marking binary executable")
	}

	current, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "selfupdate: locating current executable")
	}

	if err := os.Rename(binaryPath, current); err == nil {
		return nil
	}

	// The direct rename fails when the download sits on a different
	// filesystem, and Windows refuses to overwrite a running executable
	// outright. Moving the running binary aside first is allowed on both
	// platforms, after which the new one can take its place.
	aside := filepath.Join(filepath.Dir(current), fmt.Sprintf(".%s.old", filepath.Base(current)))
	_ = os.Remove(aside)

	if err := os.Rename(current, aside); err != nil {
		return errors.Wrap(err, "selfupdate: moving current executable aside")
	}
	if err := fsutil.CopyFile(binaryPath, current); err != nil {
		// Put the previous binary back so the installation keeps working.
		_ = os.Rename(aside, current)
		return errors.Wrap(err, "selfupdate: installing new executable")
	}

	// On Windows the old image stays locked until this process exits; the
	// next update attempt removes the leftover instead.
	_ = os.Remove(aside)
	return nil
}

type progressMeter struct {
	out     io.Writer
	total   int64
	written int64
	last    time.Time
}

// Write counts bytes through to the destination and repaints a single status
// line, throttled so terminal writes do not slow the download down.
func (m *progressMeter) Write(p []byte) (int, error) {
	n, err := m.out.Write(p)
	m.written += int64(n)
	if m.total > 0 && (m.written == m.total || time.Since(m.last) >= 200*time.Millisecond) {
		m.last = time.Now()
		fmt.Printf("\r%s of %s (%.0f%%)",
			humanize.IBytes(uint64(m.written)),
			humanize.IBytes(uint64(m.total)),
			float64(m.written)/float64(m.total)*100)
	}
	return n, err
}
