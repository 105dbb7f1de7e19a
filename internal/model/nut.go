package model

import "time"

type (
	// NutRecord is the registry's view of one issued nut. Records for
	// follow-up nuts point directly at the conversation's origin nut, never
	// at their immediate predecessor.
	NutRecord struct {
		Nut              string    `json:"nut" bson:"nut"`
		URL              string    `json:"url,omitempty" bson:"url,omitempty"`
		CreatedAt        time.Time `json:"created_at" bson:"created_at"`
		OriginalLoginNut string    `json:"original_login_nut,omitempty" bson:"original_login_nut,omitempty"`
		LoggedIn         bool      `json:"logged_in" bson:"logged_in"`
		IdentityKey      string    `json:"identity_key,omitempty" bson:"identity_key,omitempty"`
	}

	// UrlAndNut is the URL factory's product: a full sqrl:// URL, the nut
	// string embedded in it, and the raw nut bytes when the URL was built
	// from them (empty when only the encoded nut string was supplied).
	UrlAndNut struct {
		URL    string
		Nut    string
		NutRaw []byte
	}
)

// Origin returns the nut that began this conversation. A record with no
// ancestry pointer is itself the origin.
func (r *NutRecord) Origin() string {
	if r.OriginalLoginNut != "" {
		return r.OriginalLoginNut
	}
	return r.Nut
}
