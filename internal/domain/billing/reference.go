package billing

import (
	"strings"

	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// subscriptionReferencePrefix keys subscription payment entries in the ledger.
// At most one open entry may exist per reference at a time.
const subscriptionReferencePrefix = "subscription_"

// SubscriptionReference derives the ledger reference key for a subscription
func SubscriptionReference(subscriptionID uuid.UUID) string {
	return subscriptionReferencePrefix + subscriptionID.String()
}

// ParseSubscriptionReference recovers the subscription ID from a reference key
func ParseSubscriptionReference(reference string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(reference, subscriptionReferencePrefix)
	if !ok {
		return uuid.Nil, shared.NewDomainError("INVALID_REFERENCE", "Reference is not a subscription key")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.NewDomainError("INVALID_REFERENCE", "Reference does not contain a valid subscription ID")
	}
	return id, nil
}
