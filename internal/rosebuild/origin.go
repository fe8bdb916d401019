package rosebuild

import (
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"lukechampine.com/blake3"
)

// OriginKind tells which identity strategy applies to a workspace.
type OriginKind int

const (
	OriginVCS OriginKind = iota
	OriginArchive
)

func (k OriginKind) String() string {
	if k == OriginArchive {
		return "archive"
	}
	return "vcs"
}

// SourceOrigin is chosen once per run and never changes afterwards.
type SourceOrigin struct {
	Kind OriginKind

	// Version-controlled origin.
	Repository string
	RemoteURL  string

	// Archive origin.
	Package string
	Marker  string
}

// VersionControlled returns an origin backed by a git checkout.
func VersionControlled(repository, remoteURL string) SourceOrigin {
	return SourceOrigin{Kind: OriginVCS, Repository: repository, RemoteURL: remoteURL}
}

// Archive returns an origin backed by published source archives such as
// rose-0.9.5a-without-EDG-20741.tar.gz.
func Archive(pkg, marker string) SourceOrigin {
	return SourceOrigin{Kind: OriginArchive, Package: pkg, Marker: marker}
}

// WorkspaceName is the directory name of the workspace under the root.
// There is exactly one per (kind, repository) pair. Repositories given as
// a path or URL get a short digest suffix so a/rose and b/rose differ.
func (o SourceOrigin) WorkspaceName() string {
	if o.Kind == OriginArchive {
		return "archive"
	}
	name := "vcs-" + o.checkoutName()
	if isRepositoryLocation(o.Repository) {
		sum := blake3.Sum256([]byte(strings.TrimSuffix(o.Repository, "/")))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return name
}

// isRepositoryLocation reports whether repository is a path or URL rather
// than a bare name resolved against the git base URL.
func isRepositoryLocation(repository string) bool {
	return strings.Contains(repository, "/") ||
		strings.Contains(repository, "://") ||
		strings.HasPrefix(repository, "git@")
}

// checkoutName is the directory under src/ that holds the git checkout.
func (o SourceOrigin) checkoutName() string {
	return path.Base(strings.TrimSuffix(o.Repository, ".git"))
}

// archiveExts lists the packaging suffixes understood by the unpacker,
// longest first so ".tar.gz" wins over ".gz"-like prefixes.
var archiveExts = []string{".tar.gz", ".tar.xz", ".tar.zst", ".tar.bz2", ".tgz", ".zip"}

// archivePattern matches <pkg>-<version><marker>-<revision><ext>.
type archivePattern struct {
	pkg    string
	marker string
	re     *regexp.Regexp
}

func newArchivePattern(pkg, marker string) *archivePattern {
	exts := make([]string, len(archiveExts))
	for i, e := range archiveExts {
		exts[i] = regexp.QuoteMeta(e)
	}
	expr := fmt.Sprintf(`^%s-(\d[0-9A-Za-z._]*)%s-(\d+)(%s)$`,
		regexp.QuoteMeta(pkg), regexp.QuoteMeta(marker), strings.Join(exts, "|"))
	return &archivePattern{pkg: pkg, marker: marker, re: regexp.MustCompile(expr)}
}

func (p *archivePattern) Match(name string) bool {
	return p.re.MatchString(name)
}

// Stem strips the packaging extension; it names the unpacked tree.
func (p *archivePattern) Stem(name string) string {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(name, m[3])
}

// Identity strips the marker and the extension.
func (p *archivePattern) Identity(name string) string {
	stem := p.Stem(name)
	if stem == "" {
		return ""
	}
	return strings.Replace(stem, p.marker, "", 1)
}

// Revision returns the trailing revision number as a string, or "".
func (p *archivePattern) Revision(name string) string {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[2]
}

// IsStemDir reports whether a directory name is an unpacked tree of a
// matching archive.
func (p *archivePattern) IsStemDir(name string) bool {
	for _, ext := range archiveExts {
		if p.Match(name + ext) {
			return true
		}
	}
	return false
}

func (o SourceOrigin) pattern() *archivePattern {
	return newArchivePattern(o.Package, o.Marker)
}
