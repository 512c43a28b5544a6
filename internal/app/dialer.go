package app

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/docstore"
	"outreach/internal/messaging"
	"outreach/internal/repo"
)

// Dialer opens the per-run history store and messaging session described by
// a config.
type Dialer struct {
	Config *config.Config
	Logger *zap.Logger
}

func (d Dialer) DialStore(ctx context.Context) (campaign.HistoryStore, error) {
	st := d.Config.Store
	if st.Backend == config.BackendFirestore {
		var opts []option.ClientOption
		if st.Firestore.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(st.Firestore.CredentialsFile))
		}
		return docstore.Open(ctx, st.Firestore.ProjectID, st.Firestore.Collection, opts...)
	}
	return repo.Open(ctx, st.Workspace)
}

func (d Dialer) DialSession(ctx context.Context) (campaign.Session, error) {
	m := d.Config.Messaging
	return messaging.Dial(ctx, messaging.Options{
		BaseURL:   m.BaseURL,
		SessionID: m.SessionID,
		Proxy:     m.Proxy,
		Timeout:   m.Timeout.Std(),
		Logger:    d.Logger,
	})
}
