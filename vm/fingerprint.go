package vm

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical CBOR gives a byte-stable encoding, so equal templates always
// hash equal.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// templateRecord is the hashed form of a CompiledTemplate. Source text and
// the source map are left out: they do not change behavior.
type templateRecord struct {
	Name          string            `cbor:"1,keyasint"`
	FormalArgs    []argRecord       `cbor:"2,keyasint,omitempty"`
	HasFormalArgs bool              `cbor:"3,keyasint"`
	Code          []byte            `cbor:"4,keyasint"`
	Strings       []string          `cbor:"5,keyasint,omitempty"`
	Nested        map[string][]byte `cbor:"6,keyasint,omitempty"` // name -> fingerprint
	IsRegion      bool              `cbor:"7,keyasint"`
	RegionDefType RegionType        `cbor:"8,keyasint"`
	IsSubtemplate bool              `cbor:"9,keyasint"`
}

type argRecord struct {
	Name          string `cbor:"1,keyasint"`
	HasDefault    bool   `cbor:"2,keyasint"`
	DefaultSource string `cbor:"3,keyasint,omitempty"`
}

// Fingerprint returns a SHA-256 digest of t and everything nested in it.
// Two compilations of the same source with the same compiler settings have
// equal fingerprints.
func (t *CompiledTemplate) Fingerprint() [32]byte {
	rec := templateRecord{
		Name:          t.Name,
		HasFormalArgs: t.HasFormalArgs,
		Code:          t.Code,
		Strings:       t.Strings,
		IsRegion:      t.IsRegion,
		RegionDefType: t.RegionDefType,
		IsSubtemplate: t.IsSubtemplate,
	}
	if rec.Code == nil {
		rec.Code = []byte{}
	}
	for _, fa := range t.FormalArgs {
		src := fa.DefaultSource
		if src == "" && fa.HasDefault && fa.DefaultTemplate == nil {
			src = ScalarString(fa.DefaultValue)
		}
		rec.FormalArgs = append(rec.FormalArgs, argRecord{
			Name:          fa.Name,
			HasDefault:    fa.HasDefault,
			DefaultSource: src,
		})
	}
	if len(t.Nested) > 0 {
		rec.Nested = make(map[string][]byte, len(t.Nested))
		for name, nt := range t.Nested {
			fp := nt.Fingerprint()
			rec.Nested[name] = fp[:]
		}
	}
	data, err := cborEncMode.Marshal(rec)
	if err != nil {
		// Only plain data types are encoded.
		panic(fmt.Sprintf("vm: fingerprint %s: %v", t.Name, err))
	}
	return sha256.Sum256(data)
}
