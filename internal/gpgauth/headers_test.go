package gpgauth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func completeHeaders(stage Stage) http.Header {
	h := http.Header{}
	h.Set("X-GPGAuth-Version", "1.3.0")
	switch stage {
	case StageVerify:
		h.Set("X-GPGAuth-Authenticated", "false")
		h.Set("X-GPGAuth-Progress", "stage0")
		h.Set("X-GPGAuth-Verify-Response", "gpgauthv1.3.0|36|x|gpgauthv1.3.0")
	case StageStage1:
		h.Set("X-GPGAuth-Authenticated", "false")
		h.Set("X-GPGAuth-Progress", "stage1")
		h.Set("X-GPGAuth-User-Auth-Token", "-----BEGIN")
	case StageComplete:
		h.Set("X-GPGAuth-Authenticated", "true")
		h.Set("X-GPGAuth-Progress", "complete")
		h.Set("X-GPGAuth-Refer", "/")
	}
	return h
}

func TestReadHeaders_CompleteSetPasses(t *testing.T) {
	for _, stage := range []Stage{StageVerify, StageStage1, StageComplete} {
		hs, err := ReadHeaders(completeHeaders(stage), stage)
		require.NoError(t, err, "stage %s", stage)
		require.Equal(t, stage, hs.Stage)
		require.Equal(t, "1.3.0", hs.Get("X-GPGAUTH-VERSION"))
	}
}

func TestReadHeaders_EachMissingHeaderFails(t *testing.T) {
	for _, stage := range []Stage{StageVerify, StageStage1, StageComplete} {
		required := RequiredHeaders(stage)
		require.NotEmpty(t, required)
		for _, name := range required {
			h := completeHeaders(stage)
			h.Del(name)
			_, err := ReadHeaders(h, stage)
			require.Error(t, err, "stage %s without %s", stage, name)
			require.True(t, IsKind(err, KindProtocolHeaderMissing), "got %v", err)
		}
	}
}

func TestReadHeaders_WrongValues(t *testing.T) {
	h := completeHeaders(StageStage1)
	h.Set("X-GPGAuth-Version", "1.2.0")
	_, err := ReadHeaders(h, StageStage1)
	require.True(t, IsKind(err, KindProtocolHeaderMissing))

	h = completeHeaders(StageComplete)
	h.Set("X-GPGAuth-Authenticated", "false")
	_, err = ReadHeaders(h, StageComplete)
	require.True(t, IsKind(err, KindProtocolHeaderMissing))

	h = completeHeaders(StageVerify)
	h.Set("X-GPGAuth-Progress", "stage1")
	_, err = ReadHeaders(h, StageVerify)
	require.True(t, IsKind(err, KindProtocolHeaderMissing))
}

func TestReadHeaders_ServerErrorWins(t *testing.T) {
	h := http.Header{}
	h.Set("X-GPGAuth-Error", "true")
	h.Set("X-GPGAuth-Debug", "The key is revoked")
	_, err := ReadHeaders(h, StageStage1)
	require.True(t, IsKind(err, KindServerReported))
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "The key is revoked", e.Message)
}

func TestReadHeaders_UnknownStage(t *testing.T) {
	_, err := ReadHeaders(completeHeaders(StageVerify), Stage("stage9"))
	require.True(t, IsKind(err, KindProtocolHeaderMissing))
}
