package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	account, err := s.Account().Create("主账户")
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "主账户", account.Name)

	got, err := s.Account().Get(account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, "主账户", got.Name)
}

func TestAccountCreateRequiresName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Account().Create("")
	require.Error(t, err)
}

func TestAccountList(t *testing.T) {
	s := newTestStore(t)

	accounts, err := s.Account().List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = s.Account().Create("账户A")
	require.NoError(t, err)
	_, err = s.Account().Create("账户B")
	require.NoError(t, err)

	accounts, err = s.Account().List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestAccountDeleteRemovesCredentials(t *testing.T) {
	s := newTestStore(t)

	account, err := s.Account().Create("待删除")
	require.NoError(t, err)
	_, err = s.Credential().Save(account.ID, "testnet", "key", "secret")
	require.NoError(t, err)

	require.NoError(t, s.Account().Delete(account.ID))

	_, err = s.Account().Get(account.ID)
	require.Error(t, err)

	// 账户删除必须级联清理凭据
	_, err = s.Credential().Get(account.ID, "testnet")
	require.Error(t, err)
}
