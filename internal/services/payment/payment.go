package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"lucky-wheel/internal/models"
)

var (
	ErrMissingProof     = errors.New("payment proof is missing")
	ErrInvalidProof     = errors.New("payment proof is invalid")
	ErrWalletMismatch   = errors.New("payment proof is for another wallet")
	ErrVariantMismatch  = errors.New("payment proof is for another wheel")
	ErrUnderpaid        = errors.New("payment does not cover the spin price")
	ErrAlreadyRedeemed  = errors.New("payment was already redeemed")
	errUnexpectedSigner = errors.New("unexpected signing method")
)

// ProofClaims is the body of the token the payment gateway signs once a
// transfer settles.
type ProofClaims struct {
	Wallet  string           `json:"wallet"`
	Variant models.VariantID `json:"variant"`
	Amount  decimal.Decimal  `json:"amount"`
	TxID    string           `json:"txId"`
	jwt.RegisteredClaims
}

type Confirmation struct {
	Wallet  string
	Variant models.VariantID
	Amount  decimal.Decimal
	TxID    string
}

// RedeemChecker reports whether a payment transaction already paid for a spin.
type RedeemChecker interface {
	PaymentRedeemed(ctx context.Context, paymentTx string) (bool, error)
}

type Verifier struct {
	secret   []byte
	issuer   string
	redeemed RedeemChecker
}

func NewVerifier(secret, issuer string, redeemed RedeemChecker) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, redeemed: redeemed}
}

// Verify checks the proof against the request. pricePaid is the client's
// own claim and must cover the price as well as the signed amount.
// Errors other than the sentinels above come from the redeem lookup.
func (v *Verifier) Verify(ctx context.Context, proof, wallet string, variant models.WheelVariant, pricePaid decimal.Decimal) (*Confirmation, error) {
	if strings.TrimSpace(proof) == "" {
		return nil, ErrMissingProof
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(proof, &ProofClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigner
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	claims, ok := token.Claims.(*ProofClaims)
	if !ok || !token.Valid || claims.TxID == "" {
		return nil, ErrInvalidProof
	}

	if !strings.EqualFold(strings.TrimSpace(claims.Wallet), strings.TrimSpace(wallet)) {
		return nil, ErrWalletMismatch
	}
	if claims.Variant != variant.ID {
		return nil, ErrVariantMismatch
	}
	if claims.Amount.LessThan(variant.Price) || pricePaid.LessThan(variant.Price) {
		return nil, fmt.Errorf("%w: price %s, paid %s", ErrUnderpaid, variant.Price.StringFixed(2), claims.Amount.StringFixed(2))
	}

	if v.redeemed != nil {
		used, err := v.redeemed.PaymentRedeemed(ctx, claims.TxID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, ErrAlreadyRedeemed
		}
	}
	return &Confirmation{
		Wallet:  claims.Wallet,
		Variant: claims.Variant,
		Amount:  claims.Amount,
		TxID:    claims.TxID,
	}, nil
}

// IsProofError reports whether err is a rejection of the proof itself
// rather than a lookup failure.
func IsProofError(err error) bool {
	for _, target := range []error{ErrMissingProof, ErrInvalidProof, ErrWalletMismatch, ErrVariantMismatch, ErrUnderpaid, ErrAlreadyRedeemed} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Issuer signs proofs the way the gateway does. Used by the operator CLI
// to mint proofs against a dev secret.
type Issuer struct {
	secret []byte
	issuer string
}

func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer}
}

func (i *Issuer) Issue(c Confirmation, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &ProofClaims{
		Wallet:  c.Wallet,
		Variant: c.Variant,
		Amount:  c.Amount,
		TxID:    c.TxID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   c.Wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
