package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	chatservice "github.com/abhinav118/avatar-stream-vibe/internal/service/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/credential"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

func newTestManager(t *testing.T) (*Manager, *fakeProvider, credential.Store, *notify.Broker, *chatservice.Service) {
	t.Helper()
	provider := &fakeProvider{}
	creds, err := credential.NewStore(credential.StoreTypeMemory)
	require.NoError(t, err)
	broker := notify.NewBroker()
	chat := chatservice.NewService()

	manager := NewManager(ManagerDeps{
		Deps: Deps{
			Provider:    provider,
			Transcriber: &fakeTranscriber{},
			Credentials: creds,
			Chat:        chat,
			Roles:       role.NewMemoryStore(role.Seed()),
			Events:      broker,
			Logger:      zerolog.Nop(),
		},
		Logs:    chat,
		Secrets: creds,
		Streams: broker,
	}, Options{})
	return manager, provider, creds, broker, chat
}

func TestManagerLifecycle(t *testing.T) {
	manager, provider, creds, broker, chat := newTestManager(t)
	ctx := context.Background()

	controller, err := manager.Create(ctx, "concierge")
	require.NoError(t, err)
	require.Equal(t, "concierge", controller.Snapshot().Role.ID)
	require.Equal(t, 1, manager.Len())

	got, err := manager.Get(controller.ID())
	require.NoError(t, err)
	require.Same(t, controller, got)

	require.NoError(t, creds.Set(ctx, controller.ID(), credential.OpenAIKey, "sk"))
	events, _ := broker.Subscribe(controller.ID())
	require.NoError(t, controller.StartSession(ctx))

	require.NoError(t, manager.Remove(ctx, controller.ID()))

	require.Equal(t, 1, provider.last().count("StopAvatar"))
	_, err = manager.Get(controller.ID())
	require.ErrorIs(t, err, ErrVisitorNotFound)
	key, err := creds.Get(ctx, controller.ID(), credential.OpenAIKey)
	require.NoError(t, err)
	require.Empty(t, key)
	_, err = chat.Transcript(ctx, controller.ID())
	require.ErrorIs(t, err, chatservice.ErrLogNotFound)

	// 订阅通道被关闭
	for range events {
	}

	require.ErrorIs(t, manager.Remove(ctx, controller.ID()), ErrVisitorNotFound)
}

func TestManagerCreateRejectsUnknownRole(t *testing.T) {
	manager, _, _, _, _ := newTestManager(t)

	_, err := manager.Create(context.Background(), "pirate")
	require.ErrorIs(t, err, ErrRoleNotFound)
	require.Zero(t, manager.Len())
}

func TestManagerShutdownEndsSessions(t *testing.T) {
	manager, provider, _, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		controller, err := manager.Create(ctx, "")
		require.NoError(t, err)
		require.NoError(t, controller.StartSession(ctx))
	}

	manager.Shutdown(ctx)

	require.Zero(t, manager.Len())
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.clients, 3)
	for _, client := range provider.clients {
		require.Equal(t, 1, client.count("StopAvatar"))
	}
}

func TestManagerLogsCarryComponent(t *testing.T) {
	var buf bytes.Buffer
	creds, err := credential.NewStore(credential.StoreTypeMemory)
	require.NoError(t, err)
	chat := chatservice.NewService()
	manager := NewManager(ManagerDeps{
		Deps: Deps{
			Provider:    &fakeProvider{},
			Transcriber: &fakeTranscriber{},
			Credentials: creds,
			Chat:        chat,
			Roles:       role.NewMemoryStore(role.Seed()),
			Events:      notify.NewBroker(),
			Logger:      zerolog.New(&buf),
		},
		Logs:    chat,
		Secrets: creds,
	}, Options{})

	controller, err := manager.Create(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, controller.StartSession(context.Background()))
	manager.Shutdown(context.Background())

	components := map[string]bool{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if name, ok := entry["component"].(string); ok {
			components[name] = true
		}
	}
	require.True(t, components["session_manager"])
	require.True(t, components["session"])
}
