package chain

import (
	"encoding/hex"
	"strings"
	"testing"

	"tokenwatch/internal/errors"
	"tokenwatch/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventConstants(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", TransferTopic)
	assert.Equal(t, "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822", SwapTopic)
	assert.Equal(t, "0dfe1681", hex.EncodeToString(Token0Selector))
	assert.Equal(t, "70a08231", hex.EncodeToString(BalanceOfSelector))
}

func TestEncodeBalanceOf(t *testing.T) {
	data := EncodeBalanceOf("0x81A224F8A62f52BdE942dBF23A56df77A10b7777")
	require.Len(t, data, 36)
	assert.Equal(t, "70a08231"+strings.Repeat("0", 24)+"81a224f8a62f52bde942dbf23a56df77a10b7777", hex.EncodeToString(data))
}

func TestPadAddressTopic(t *testing.T) {
	topic := PadAddressTopic("0x81A224F8A62f52BdE942dBF23A56df77A10b7777")
	assert.Equal(t, "0x"+strings.Repeat("0", 24)+"81a224f8a62f52bde942dbf23a56df77a10b7777", topic)
}

func TestDecodeUint256(t *testing.T) {
	assert.Equal(t, int64(0), DecodeUint256(nil).Int64())
	assert.Equal(t, int64(0), DecodeUint256([]byte{}).Int64())

	word := make([]byte, 32)
	word[31] = 7
	assert.Equal(t, int64(7), DecodeUint256(word).Int64())
}

func TestDecodeAddressWord(t *testing.T) {
	word, _ := hex.DecodeString(strings.Repeat("0", 24) + "81a224f8a62f52bde942dbf23a56df77a10b7777")
	addr, err := DecodeAddressWord(word)
	require.NoError(t, err)
	assert.Equal(t, "0x81a224f8a62f52bde942dbf23a56df77a10b7777", addr)

	_, err = DecodeAddressWord([]byte{1, 2})
	assert.True(t, errors.IsDecode(err))
}

func transferLog(data string, topics ...string) models.LogRecord {
	return models.LogRecord{
		BlockNumber: 5,
		TxHash:      "0x" + strings.Repeat("11", 32),
		Topics:      topics,
		Data:        data,
	}
}

func TestDecodeTransfer(t *testing.T) {
	from := PadAddressTopic("0x00000000000000000000000000000000000000AA")
	to := PadAddressTopic("0x00000000000000000000000000000000000000bb")
	amount := "0x" + strings.Repeat("0", 62) + "ff"

	ev, err := DecodeTransfer(transferLog(amount, TransferTopic, from, to))
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", ev.From)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", ev.To)
	assert.Equal(t, int64(255), ev.Amount.Int64())
	assert.Equal(t, uint64(5), ev.BlockNumber)
}

func TestDecodeTransfer_Errors(t *testing.T) {
	from := PadAddressTopic("0x01")
	to := PadAddressTopic("0x02")
	amount := "0x" + strings.Repeat("0", 64)

	tests := []struct {
		name string
		log  models.LogRecord
	}{
		{"wrong signature", transferLog(amount, SwapTopic, from, to)},
		{"too few topics", transferLog(amount, TransferTopic, from)},
		{"non hex data", transferLog("0xzz", TransferTopic, from, to)},
		{"short data", transferLog("0x01", TransferTopic, from, to)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTransfer(tt.log)
			require.Error(t, err)
			assert.True(t, errors.IsDecode(err))
		})
	}
}
