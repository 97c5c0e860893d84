package ports

import "github.com/Apsharan/Compteur/internal/domain"

// Broadcaster delivers an event to every connected viewer session.
// Delivery is best-effort per session: a failed or closed session is skipped
// and never aborts delivery to the rest. Successive Broadcast calls are
// delivered in order on each individual session.
type Broadcaster interface {
	Broadcast(e domain.Event)
}
