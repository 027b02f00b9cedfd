// Package session maintains the paid_services browser cookie: a record of
// which purchases this browser has already paid for, used to gate content
// for a few hours without a server round trip.
//
// The cookie holds a URL-encoded JSON array of entries. It is not a
// security boundary: anyone can forge it, and the content it gates is
// non-sensitive read access.
package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// CookieName is the single cookie holding all paid session entries.
const CookieName = "paid_services"

// DefaultWindow is how long a paid session stays active.
const DefaultWindow = 3 * time.Hour

// Entry is one paid session. At most one live entry exists per
// (ServiceType, ActionType) pair.
type Entry struct {
	ServiceType   string    `json:"serviceType"`
	ActionType    string    `json:"actionType"`
	PhoneNumber   string    `json:"phoneNumber"`
	PaidAt        time.Time `json:"paidAt"`
	TransactionID string    `json:"transactionId"`
}

// Cache reads and writes paid session cookies.
type Cache struct {
	window time.Duration
	now    func() time.Time
}

// NewCache creates a cache with the given expiry window. A zero window
// falls back to DefaultWindow.
func NewCache(window time.Duration) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{window: window, now: time.Now}
}

// HasActivePaidSession reports whether the request carries a non-expired
// entry matching both serviceType and actionType. Expired entries are
// excluded here on every read; they are physically removed only on the
// next write.
func (c *Cache) HasActivePaidSession(r *http.Request, serviceType, actionType string) bool {
	for _, e := range c.readEntries(r) {
		if e.ServiceType == serviceType && e.ActionType == actionType && !c.expired(e) {
			return true
		}
	}
	return false
}

// RecordPaymentSession writes a new entry, replacing any existing entry
// for the same (serviceType, actionType) pair and pruning expired entries,
// then rewrites the cookie as a single value.
func (c *Cache) RecordPaymentSession(w http.ResponseWriter, r *http.Request, entry Entry) error {
	if entry.PaidAt.IsZero() {
		entry.PaidAt = c.now().UTC()
	}

	kept := []Entry{entry}
	for _, e := range c.readEntries(r) {
		if e.ServiceType == entry.ServiceType && e.ActionType == entry.ActionType {
			continue // replaced, not duplicated
		}
		if c.expired(e) {
			continue // pruned on write
		}
		kept = append(kept, e)
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(string(encoded)),
		Path:     "/",
		MaxAge:   int(c.window / time.Second),
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// ClearPaymentSessions deletes the cookie outright.
func (c *Cache) ClearPaymentSessions(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.PaidAt) > c.window
}

// readEntries decodes the cookie. A missing or corrupt cookie reads as
// empty, never as an error: the cache is best-effort.
func (c *Cache) readEntries(r *http.Request) []Entry {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}

	decoded, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(decoded), &entries); err != nil {
		return nil
	}

	return entries
}
