package websocket

import (
	"sync"

	"commerce-auctions/pkg/logger"
)

// ConnectionManager tracks open bid sessions by listing so they can be shut
// down when the listing closes or the service stops. It never fans messages
// out; each session only answers its own sender.
type ConnectionManager struct {
	sessions map[string]map[*BidSession]struct{} // listingID -> sessions
	mutex    sync.RWMutex
	log      logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		sessions: make(map[string]map[*BidSession]struct{}),
		log:      log,
	}
}

func (cm *ConnectionManager) Register(s *BidSession) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.sessions[s.listingID] == nil {
		cm.sessions[s.listingID] = make(map[*BidSession]struct{})
	}
	cm.sessions[s.listingID][s] = struct{}{}

	cm.log.Info("Connection registered", "user_id", s.userID, "listing_id", s.listingID)
}

func (cm *ConnectionManager) Unregister(s *BidSession) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if listingSessions, exists := cm.sessions[s.listingID]; exists {
		delete(listingSessions, s)
		if len(listingSessions) == 0 {
			delete(cm.sessions, s.listingID)
		}
	}

	cm.log.Info("Connection unregistered", "user_id", s.userID, "listing_id", s.listingID)
}

// CloseListing ends every session on listingID with a normal close frame.
func (cm *ConnectionManager) CloseListing(listingID, reason string) {
	for _, s := range cm.take(listingID) {
		if err := s.CloseWithReason(reason); err != nil {
			cm.log.Debug("Failed to close connection", "user_id", s.userID, "listing_id", listingID, "error", err)
		}
	}
	cm.log.Info("Connections closed for listing", "listing_id", listingID)
}

func (cm *ConnectionManager) CloseAll(reason string) {
	cm.mutex.RLock()
	listingIDs := make([]string, 0, len(cm.sessions))
	for id := range cm.sessions {
		listingIDs = append(listingIDs, id)
	}
	cm.mutex.RUnlock()

	for _, id := range listingIDs {
		cm.CloseListing(id, reason)
	}
}

func (cm *ConnectionManager) take(listingID string) []*BidSession {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	listingSessions := cm.sessions[listingID]
	delete(cm.sessions, listingID)

	out := make([]*BidSession, 0, len(listingSessions))
	for s := range listingSessions {
		out = append(out, s)
	}
	return out
}

func (cm *ConnectionManager) Count(listingID string) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.sessions[listingID])
}
