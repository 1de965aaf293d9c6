package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/database/testutil"
	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/internal/realtime"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
)

type recordingNotifier struct {
	mu         sync.Mutex
	messages   []MessageDTO
	recipients [][]string
}

func (r *recordingNotifier) NotifyNewMessage(_ context.Context, message MessageDTO, recipientIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.recipients = append(r.recipients, recipientIDs)
}

func seedConversation(t *testing.T, db *gorm.DB, id string, participants ...string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Conversation{BaseModel: models.BaseModel{ID: id}, Title: "Care team"}).Error)
	for _, userID := range participants {
		require.NoError(t, db.Create(&models.ConversationParticipant{ConversationID: id, UserID: userID}).Error)
	}
}

func newMessageService(t *testing.T) (*MessageService, *recordingEmitter, *recordingNotifier) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedConversation(t, db, "conv-1", "nurse", "family", "caregiver")
	emitter := &recordingEmitter{}
	notifier := &recordingNotifier{}
	svc, err := NewMessageService(db, emitter, notifier)
	require.NoError(t, err)
	return svc, emitter, notifier
}

func TestMessageServiceSendPersistsThenBroadcasts(t *testing.T) {
	svc, emitter, notifier := newMessageService(t)

	msg, err := svc.Send(context.Background(), SendMessageInput{
		ConversationID: "conv-1",
		SenderID:       "nurse",
		Content:        "  Dinner <meds> given  ",
		ExcludeConnID:  "conn-9",
	})
	require.NoError(t, err)
	require.Equal(t, "Dinner &lt;meds&gt; given", msg.Content)

	var stored models.Message
	require.NoError(t, svc.db.First(&stored, "id = ?", msg.ID).Error)
	require.Equal(t, "nurse", stored.SenderID)

	broadcast := emitter.named(realtime.EventNewMessage)
	require.Len(t, broadcast, 1)
	require.Equal(t, "conversation:conv-1", broadcast[0].Target)
	require.Equal(t, "conn-9", broadcast[0].Exclude)

	previews := emitter.named(realtime.EventMessageNotification)
	require.Len(t, previews, 2)
	require.ElementsMatch(t, []string{"user:family", "user:caregiver"}, []string{previews[0].Target, previews[1].Target})

	require.Len(t, notifier.messages, 1)
	require.ElementsMatch(t, []string{"family", "caregiver"}, notifier.recipients[0])
}

func TestMessageServiceSendRejectsOutsiders(t *testing.T) {
	svc, emitter, notifier := newMessageService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, SendMessageInput{ConversationID: "conv-1", SenderID: "stranger", Content: "hi"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.Send(ctx, SendMessageInput{ConversationID: "missing", SenderID: "nurse", Content: "hi"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Send(ctx, SendMessageInput{ConversationID: "conv-1", SenderID: "nurse", Content: "   "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.Empty(t, emitter.events)
	require.Empty(t, notifier.messages)

	var count int64
	require.NoError(t, svc.db.Model(&models.Message{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMessageServiceMarkRead(t *testing.T) {
	svc, emitter, _ := newMessageService(t)

	receipt, err := svc.MarkRead(context.Background(), "conv-1", "family")
	require.NoError(t, err)
	require.Equal(t, "family", receipt.UserID)

	var participant models.ConversationParticipant
	require.NoError(t, svc.db.First(&participant, "conversation_id = ? AND user_id = ?", "conv-1", "family").Error)
	require.NotNil(t, participant.LastReadAt)

	events := emitter.named(realtime.EventConversationRead)
	require.Len(t, events, 1)
	require.Equal(t, "conversation:conv-1", events[0].Target)
}

func TestMessageServiceDeleteHidesOnceEveryoneDeleted(t *testing.T) {
	svc, emitter, _ := newMessageService(t)
	ctx := context.Background()

	msg, err := svc.Send(ctx, SendMessageInput{ConversationID: "conv-1", SenderID: "nurse", Content: "Vitals stable"})
	require.NoError(t, err)

	for _, userID := range []string{"nurse", "family"} {
		payload, err := svc.Delete(ctx, "conv-1", msg.ID, userID)
		require.NoError(t, err)
		require.False(t, payload.HiddenForAll)
	}

	visible, err := svc.ListVisible(ctx, "conv-1", "nurse", 0)
	require.NoError(t, err)
	require.Empty(t, visible)

	visible, err = svc.ListVisible(ctx, "conv-1", "caregiver", 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)

	// A repeated delete by the same participant does not count twice.
	payload, err := svc.Delete(ctx, "conv-1", msg.ID, "family")
	require.NoError(t, err)
	require.False(t, payload.HiddenForAll)

	payload, err = svc.Delete(ctx, "conv-1", msg.ID, "caregiver")
	require.NoError(t, err)
	require.True(t, payload.HiddenForAll)

	var stored models.Message
	require.NoError(t, svc.db.First(&stored, "id = ?", msg.ID).Error)
	require.True(t, stored.IsDeleted)

	_, err = svc.Delete(ctx, "conv-1", msg.ID, "nurse")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	deleted := emitter.named(realtime.EventMessageDeleted)
	require.Len(t, deleted, 4)
	require.Equal(t, "user:nurse", deleted[0].Target)
	require.Equal(t, "conversation:conv-1", deleted[3].Target)
}

func TestMessageServiceIsParticipant(t *testing.T) {
	svc, _, _ := newMessageService(t)

	ok, err := svc.IsParticipant(context.Background(), "conv-1", "caregiver")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.IsParticipant(context.Background(), "conv-1", "stranger")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMessageServicePresencePeers(t *testing.T) {
	svc, _, _ := newMessageService(t)
	seedConversation(t, svc.db, "conv-2", "nurse", "doctor")
	seedConversation(t, svc.db, "conv-3", "outsider", "doctor")

	peers, err := svc.PresencePeers(context.Background(), "nurse")
	require.NoError(t, err)
	require.Equal(t, []string{"caregiver", "doctor", "family"}, peers)

	peers, err = svc.PresencePeers(context.Background(), "family")
	require.NoError(t, err)
	require.Equal(t, []string{"caregiver", "nurse"}, peers)

	peers, err = svc.PresencePeers(context.Background(), "stranger")
	require.NoError(t, err)
	require.Empty(t, peers)
}
