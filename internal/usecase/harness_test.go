package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	repoimpl "marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/auth"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
)

const testSecret = "test-secret"

var (
	customer     = entity.Participant{ID: "cust-1", Role: entity.RoleCustomer, Name: "Ana"}
	stranger     = entity.Participant{ID: "cust-2", Role: entity.RoleCustomer, Name: "Dewi"}
	operator     = entity.Participant{ID: "op-1", Role: entity.RoleStoreOperator, Name: "Budi", StoreIDs: []string{"store-1"}}
	conversation = entity.ConversationKey("cust-1", "store-1")
)

type harness struct {
	t          *testing.T
	convRepo   *repoimpl.MemoryConversationRepository
	identities *repoimpl.MemoryIdentityRepository
	presence   *ws.Presence
	rooms      *ws.Rooms
	fanout     *ws.LocalFanout
	router     *NotificationRouter
	delivery   *DeliveryUseCase
	gateway    *GatewayUseCase
	realtime   *RealtimeUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	convRepo := repoimpl.NewMemoryConversationRepository()
	identities := repoimpl.NewMemoryIdentityRepository()
	identities.AddCustomer(&entity.Customer{ID: "cust-1", Name: "Ana"})
	identities.AddCustomer(&entity.Customer{ID: "cust-2", Name: "Dewi"})
	identities.AddOperator(&entity.Operator{ID: "op-1", Name: "Budi", StoreIDs: []string{"store-1"}})

	presence := ws.NewPresence()
	rooms := ws.NewRooms()
	fanout := ws.NewLocalFanout(rooms, presence)
	router := NewNotificationRouter(convRepo, identities, presence, fanout)
	limiter := ratelimit.NewRateLimiter(ratelimit.DefaultPolicies(1000, 1000))

	delivery := NewDeliveryUseCase(convRepo, rooms, fanout, router, limiter, DeliveryConfig{MaxContentLength: 40})

	verifier, err := auth.NewHS256Verifier(testSecret, "")
	require.NoError(t, err)
	gateway := NewGatewayUseCase(verifier, identities, presence, rooms, fanout, router)

	return &harness{
		t:          t,
		convRepo:   convRepo,
		identities: identities,
		presence:   presence,
		rooms:      rooms,
		fanout:     fanout,
		router:     router,
		delivery:   delivery,
		gateway:    gateway,
		realtime:   NewRealtimeUseCase(gateway, delivery),
	}
}

// openConversation creates the cust-1 / store-1 conversation.
func (h *harness) openConversation() *entity.Conversation {
	h.t.Helper()
	conv, _, err := h.convRepo.FindOrCreateConversation(context.Background(), "cust-1", "store-1")
	require.NoError(h.t, err)
	return conv
}

// connect registers a live connection the way the gateway does and discards
// the greeting frames.
func (h *harness) connect(p entity.Participant) *ws.Client {
	h.t.Helper()
	c := ws.NewClient(nil, p, ws.ClientOptions{BufferSize: 64})
	h.gateway.OnConnect(context.Background(), c)
	drain(c)
	return c
}

func (h *harness) join(c *ws.Client) {
	h.t.Helper()
	require.NoError(h.t, h.delivery.Join(context.Background(), c, conversation))
}

func (h *harness) send(p entity.Participant, origin, content string) *SendResult {
	h.t.Helper()
	result, err := h.delivery.Send(context.Background(), p, origin, conversation, SendMessageInput{Content: content})
	require.NoError(h.t, err)
	return result
}

type frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data"`
}

// drain returns every frame queued on c.
func drain(c *ws.Client) []frame {
	var out []frame
	for {
		select {
		case raw := <-c.Outbound():
			var f frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func ofType(frames []frame, eventType string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
