package identity

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"phenix-chat/go-backend/internal/messaging"
	"phenix-chat/go-backend/internal/wallet"
)

// walletSigner bridges personal_sign hex signatures to raw bytes.
type walletSigner struct {
	provider wallet.Provider
	address  string
}

func (s walletSigner) Identifier() messaging.Identifier {
	return messaging.EthereumIdentifier(s.address)
}

func (s walletSigner) SignMessage(ctx context.Context, message string) ([]byte, error) {
	sig, err := s.provider.SignMessage(ctx, s.address, message)
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(sig)
}
