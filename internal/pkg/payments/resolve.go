package payments

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// Internal checkout ids carry this prefix and contain no separator
	// characters beyond the prefix underscore.
	checkoutIDPrefix = "co_"

	// LegacyReferencePrefix marks external references written by the old
	// checkout flow, which embedded the gateway-issued checkout id instead
	// of an internal one.
	LegacyReferencePrefix = "chk_"
)

// Gateway-specific suffixes appended to the external reference to
// disambiguate payment-method variants of the same logical order.
var methodSuffixes = []string{"-pix", "-boleto", "-card"}

// NewCheckoutID generates an internal checkout id. The id intentionally
// contains no '-' so gateway-issued ids remain distinguishable.
func NewCheckoutID() string {
	return checkoutIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// DeriveCheckoutID strips any payment-method suffix from an external
// reference, yielding the internal checkout id both method variants of the
// same logical order share.
func DeriveCheckoutID(externalReference string) string {
	ref := strings.TrimSpace(externalReference)
	for _, suffix := range methodSuffixes {
		if strings.HasSuffix(ref, suffix) {
			return strings.TrimSuffix(ref, suffix)
		}
	}
	return ref
}

// HasLegacyReference reports whether the external reference uses the old
// format that embedded the gateway checkout id directly.
func HasLegacyReference(externalReference string) bool {
	return strings.HasPrefix(strings.TrimSpace(externalReference), LegacyReferencePrefix)
}

// LooksGatewayIssued reports whether an id was minted by the gateway rather
// than by us. Gateway checkout ids are UUID-like and contain '-', internal
// ids never do.
func LooksGatewayIssued(id string) bool {
	return strings.Contains(id, "-")
}
