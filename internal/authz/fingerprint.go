package authz

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// KeyPrefix is the namespace for cached decision keys.
const KeyPrefix = "authz:dec:"

// Fingerprint condenses a principal's evaluation-relevant identity into a
// stable hex digest: subject, claims version, admin flag, sorted role ids,
// and sorted direct-claim facts. It changes whenever the subject's roles or
// claims change (the store bumps the claims version) and never depends on
// wall-clock time. Claim properties are excluded; they do not influence
// evaluation.
func Fingerprint(p Principal) string {
	h, _ := blake2b.New256(nil)
	writeField(h, p.SubjectID)
	writeField(h, strconv.FormatInt(p.ClaimsVersion, 10))
	if p.BuiltinAdmin {
		writeField(h, "admin")
	}
	roles := append([]int64(nil), p.RoleIDs...)
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	for _, id := range roles {
		writeField(h, strconv.FormatInt(id, 10))
	}
	facts := make([]string, 0, len(p.DirectClaims))
	for _, c := range p.DirectClaims {
		facts = append(facts, c.Type+"\x1f"+c.Value+"\x1f"+strconv.FormatInt(c.Scope, 10))
	}
	sort.Strings(facts)
	for _, f := range facts {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DecisionKey builds the stable cache key for one evaluation. Layout:
//
//	authz:dec:s:<subject>:r:<resource>:a:<action>:<digest>
//
// The readable segments keep introspection greppable by subject or resource;
// the digest covers the principal fingerprint, the principal epoch, the
// ancestor chain with its scope epochs, and the action, so any invalidation
// bump moves evaluations to a fresh key.
func DecisionKey(p Principal, principalEpoch int64, chain []hierarchy.Node, scopeEpochs []int64, action Action) string {
	h, _ := blake2b.New256(nil)
	writeField(h, Fingerprint(p))
	writeField(h, strconv.FormatInt(principalEpoch, 10))
	for i, n := range chain {
		var epoch int64
		if i < len(scopeEpochs) {
			epoch = scopeEpochs[i]
		}
		writeField(h, strconv.FormatInt(n.ID, 10))
		writeField(h, strconv.FormatInt(epoch, 10))
	}
	writeField(h, string(action))
	digest := hex.EncodeToString(h.Sum(nil))[:32]
	var resourceID int64
	if len(chain) > 0 {
		resourceID = chain[len(chain)-1].ID
	}
	return fmt.Sprintf("%ss:%s:r:%d:a:%s:%s", KeyPrefix, p.SubjectID, resourceID, action, digest)
}

// SubjectKeyPrefix returns the introspection prefix covering every cached
// decision for subject.
func SubjectKeyPrefix(subject string) string {
	return KeyPrefix + "s:" + subject + ":"
}

func writeField(h hash.Hash, s string) {
	_, _ = io.WriteString(h, s)
	_, _ = h.Write([]byte{0x1e})
}
