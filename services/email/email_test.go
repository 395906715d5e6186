package emailsvc

import (
	"net/http"
	"net/mail"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	logsvc "github.com/trezcool/somo/services/logger"
)

func testConf() *core.Config {
	return &core.Config{
		AppName:          "Somo",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "Somo", Address: "noreply@localhost"},
	}
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := testConf()
	svc := NewConsoleServiceMock(conf, logsvc.NewDiscardLogger(conf))

	svc.SendMessages(
		&core.EmailMessage{
			To:           []mail.Address{{Name: "Ada", Address: "ada@test.test"}},
			Subject:      "Your course is ready",
			TemplateName: "course_ready",
			TemplateData: map[string]interface{}{
				"Name":          "Ada",
				"CourseTitle":   "Intro to Go",
				"DocumentTitle": "go.md",
				"Modules":       2,
				"Lessons":       5,
				"CourseID":      "c1",
			},
		},
		&core.EmailMessage{Subject: "no recipient", BodyStr: "dropped"},
		&core.EmailMessage{To: []mail.Address{{Address: "bob@test.test"}}, Subject: "plain", BodyStr: "hello"},
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].TextContent, "Intro to Go")
	assert.Contains(t, sent[0].HTMLContent, "Intro to Go")
	assert.Equal(t, "hello", sent[1].TextContent)
	assert.Empty(t, sent[1].HTMLContent)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestSendgridService_Send(t *testing.T) {
	origAPI := apiFunc
	defer func() { apiFunc = origAPI }()
	conf := testConf()
	svc := NewSendgridService(conf, logsvc.NewDiscardLogger(conf)).(*sendgridService)
	msg := core.EmailMessage{To: []mail.Address{{Address: "bob@test.test"}}, Subject: "s", TextContent: "hello"}

	tests := []struct {
		name      string
		codes     []int
		wantCalls int
		wantErr   bool
	}{
		{name: "accepted", codes: []int{http.StatusAccepted}, wantCalls: 1},
		{name: "retried then accepted", codes: []int{http.StatusServiceUnavailable, http.StatusAccepted}, wantCalls: 2},
		{name: "bad request is not retried", codes: []int{http.StatusBadRequest}, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			apiFunc = func(req rest.Request) (*rest.Response, error) {
				code := tt.codes[calls]
				calls++
				return &rest.Response{StatusCode: code}, nil
			}
			err := svc.send(msg)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}
