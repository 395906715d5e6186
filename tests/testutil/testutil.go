package testutil

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/user"
	logsvc "github.com/trezcool/somo/services/logger"
)

// NewConfig returns the TEST configuration, with the offline AI generator.
func NewConfig(t testing.TB) *core.Config {
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()
	conf.AI.Provider = "offline"
	return conf
}

func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewDiscardLogger(conf)
}

func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  &isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateDocument(t testing.TB, repo document.Repository, owner user.User, title, mimeType, content string) document.Document {
	t.Helper()

	now := time.Now().UTC()
	doc, err := repo.CreateDocument(context.Background(), document.Document{
		OwnerID:   owner.ID,
		Title:     title,
		MimeType:  mimeType,
		Content:   content,
		CharCount: utf8.RuneCountInString(content),
		Status:    document.StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("createDocument() failed: %v", err)
	}
	return doc
}
