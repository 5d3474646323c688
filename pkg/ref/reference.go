// Package ref implements the package reference model (spec.md C1): parsing
// and formatting of `channel/id/version/arch/module` package coordinates,
// and numeric version ordering.
//
// Grounded on the original Linyaps/linglong C++ `Ref` type
// (original_source/src/module/package/ref.h) and, for its value-type
// construction/validation idiom, digest.go.
package ref

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/linglong/linglong"
)

// Arch is a supported CPU architecture.
type Arch string

const (
	ArchX86_64 Arch = "x86_64"
	ArchARM64  Arch = "arm64"
	ArchMIPS64 Arch = "mips64"
)

func (a Arch) valid() bool {
	switch a {
	case ArchX86_64, ArchARM64, ArchMIPS64:
		return true
	default:
		return false
	}
}

// HostArch returns the arch of the runtime environment, in the vocabulary
// this package uses.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX86_64
	case "arm64":
		return ArchARM64
	case "mips64", "mips64le":
		return ArchMIPS64
	default:
		// Not one of the three supported arches; callers that require a
		// supported host arch (the Installer, per spec.md §4.5.1 step 1)
		// will reject this at a higher level.
		return Arch(runtime.GOARCH)
	}
}

// Module selects a variant of a package's layer.
type Module string

const (
	// ModuleRuntime is the default module: an app or runtime's regular
	// files.
	ModuleRuntime Module = "runtime"
	// ModuleDevel adds debug data (spec.md §3.1).
	ModuleDevel Module = "devel"
)

func (m Module) valid() bool {
	switch m {
	case ModuleRuntime, ModuleDevel:
		return true
	default:
		return false
	}
}

// DefaultChannel is used when a Reference's input omits the channel
// segment.
const DefaultChannel = "linglong"

// MalformedReferenceError reports why an input string could not be parsed
// as a Reference. It carries [linglong.ErrInvalid] as its kind via Is.
type MalformedReferenceError struct {
	Input  string
	Reason string
}

func (e *MalformedReferenceError) Error() string {
	return fmt.Sprintf("malformed reference %q: %s", e.Input, e.Reason)
}

// Is reports whether target is [linglong.ErrInvalid], so callers can test
// with errors.Is instead of a type assertion.
func (e *MalformedReferenceError) Is(target error) bool {
	return target == linglong.ErrInvalid
}

// Reference identifies one materialized layer (spec.md §3.1).
type Reference struct {
	Channel string
	ID      string
	Version Version // zero value means "unresolved"
	Arch    Arch
	Module  Module
}

// Complete reports whether every field is non-empty, per the invariant in
// spec.md §3.1. A Reference fresh out of Parse need not be Complete: its
// Version may still need resolving against the catalog or remote index.
func (r Reference) Complete() bool {
	return r.Channel != "" && r.ID != "" && !r.Version.IsZero() && r.Arch != "" && r.Module != ""
}

// Parse splits a `channel:id/version/arch/module` or bare
// `id[/version[/arch[/module]]]` or fully-qualified
// `channel/id/version/arch/module` string into a Reference, filling
// `channel=linglong`, `arch=host`, and `module=runtime` defaults.
//
// It fails with a *MalformedReferenceError if the input has more than 5
// slash segments or an empty id segment.
func Parse(input string) (Reference, error) {
	var channel string
	rest := input
	maxSegs := 5

	if i := strings.IndexByte(input, ':'); i >= 0 {
		channel = input[:i]
		rest = input[i+1:]
		maxSegs = 4 // channel consumed the colon form; the rest is id/version/arch/module
	}

	segs := strings.Split(rest, "/")
	if len(segs) > maxSegs {
		return Reference{}, &MalformedReferenceError{Input: input, Reason: "too many slash segments"}
	}
	if channel == "" && len(segs) == 5 {
		// Fully-qualified no-colon form: channel/id/version/arch/module.
		channel = segs[0]
		segs = segs[1:]
	}
	if segs[0] == "" {
		return Reference{}, &MalformedReferenceError{Input: input, Reason: "empty id segment"}
	}

	r := Reference{
		Channel: channel,
		ID:      segs[0],
		Arch:    HostArch(),
		Module:  ModuleRuntime,
	}
	if r.Channel == "" {
		r.Channel = DefaultChannel
	}

	if len(segs) > 1 && segs[1] != "" {
		v, err := ParseVersion(segs[1])
		if err != nil {
			return Reference{}, err
		}
		r.Version = v
	}
	if len(segs) > 2 && segs[2] != "" {
		a := Arch(segs[2])
		if !a.valid() {
			return Reference{}, &MalformedReferenceError{Input: input, Reason: "unknown arch: " + segs[2]}
		}
		r.Arch = a
	}
	if len(segs) > 3 && segs[3] != "" {
		m := Module(segs[3])
		if !m.valid() {
			return Reference{}, &MalformedReferenceError{Input: input, Reason: "unknown module: " + segs[3]}
		}
		r.Module = m
	}

	return r, nil
}

// Format renders the canonical 5-segment `channel/id/version/arch/module`
// string form. A field left unresolved (an empty Version) renders as an
// empty segment.
func Format(r Reference) string {
	return strings.Join([]string{r.Channel, r.ID, r.Version.String(), string(r.Arch), string(r.Module)}, "/")
}

// String implements fmt.Stringer via Format.
func (r Reference) String() string { return Format(r) }

// Equal reports whether r and o identify the same layer. Reference is not
// comparable with == because Version embeds a slice; Equal is the
// field-wise substitute.
func (r Reference) Equal(o Reference) bool {
	return r.Channel == o.Channel && r.ID == o.ID && r.Arch == o.Arch && r.Module == o.Module &&
		Compare(r.Version, o.Version) == Equal
}

// PURL renders an alternate `pkg:` package-url serialization of r,
// alongside the canonical slash form. The generic purl type accommodates
// an arbitrary qualifier set, so `module` is carried as a qualifier.
func (r Reference) PURL() string {
	var version string
	if !r.Version.IsZero() {
		version = r.Version.String()
	}
	q := packageurl.Qualifiers{}
	if r.Arch != "" {
		q = append(q, packageurl.Qualifier{Key: "arch", Value: string(r.Arch)})
	}
	if r.Module != "" {
		q = append(q, packageurl.Qualifier{Key: "module", Value: string(r.Module)})
	}
	p := packageurl.NewPackageURL(packageurl.TypeGeneric, r.Channel, r.ID, version, q, "")
	return p.ToString()
}

// LatestOf returns the candidate with the given id whose version has
// versionPrefix as a dotted prefix and compares greatest by numeric order
// (spec.md §4.1). Ties break on the later entry in candidates (callers
// are expected to pass candidates ordered oldest-to-newest, e.g. by
// catalog insertion order).
//
// The second return value is false if no candidate matches.
func LatestOf(id, versionPrefix string, candidates []Reference) (Reference, bool) {
	var prefix Version
	if versionPrefix != "" {
		var err error
		prefix, err = ParseVersion(versionPrefix)
		if err != nil {
			return Reference{}, false
		}
	}

	var best Reference
	found := false
	for _, c := range candidates {
		if c.ID != id {
			continue
		}
		if !c.Version.HasDottedPrefix(prefix) {
			continue
		}
		if !found || Compare(c.Version, best.Version) != Less {
			best, found = c, true
		}
	}
	return best, found
}
