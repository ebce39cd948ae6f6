package domain

// Purchase is a classified mempool sighting: a pending transaction that
// would fill the listing of Token with the given marketplace order nonce.
// Transient; never persisted.
type Purchase struct {
	Token        Token
	ListingNonce uint64
}
