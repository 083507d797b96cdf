package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromCloseCode(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   CloseStatus
	}{
		{"normal close is success", CloseNormal, "bye", Success},
		{"going away", CloseGoingAway, "gone", CloseStatus{DomainRemoteProtocol, CloseGoingAway, "gone"}},
		{"http status", 401, "Unauthorized", CloseStatus{DomainRemoteProtocol, 401, "Unauthorized"}},
		{"abnormal", 1006, "", CloseStatus{DomainRemoteProtocol, 1006, ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromCloseCode(tt.code, tt.reason))
		})
	}
}

func TestRemoteCloseCode(t *testing.T) {
	assert.Equal(t, ClosePolicyError, RemoteCloseCode(401))
	assert.Equal(t, ClosePolicyError, RemoteCloseCode(503))
	assert.Equal(t, ClosePolicyError, RemoteCloseCode(101))
	assert.Equal(t, 100, RemoteCloseCode(100))
	assert.Equal(t, 600, RemoteCloseCode(600))
	assert.Equal(t, CloseNormal, RemoteCloseCode(CloseNormal))
	assert.Equal(t, 4000, RemoteCloseCode(4000))
}

func TestCloseStatus(t *testing.T) {
	assert.True(t, Success.IsSuccess())
	assert.False(t, CloseStatus{Domain: DomainNetwork}.IsSuccess())
	assert.Equal(t, "remote/1008: nope", CloseStatus{DomainRemoteProtocol, 1008, "nope"}.String())
	assert.Equal(t, "engine/0", Success.String())

	assert.Equal(t, ErrorDomainLiteCore, DomainEngine.EngineDomain())
	assert.Equal(t, ErrorDomainNetwork, DomainNetwork.EngineDomain())
	assert.Equal(t, ErrorDomainWebSocket, DomainRemoteProtocol.EngineDomain())
}
