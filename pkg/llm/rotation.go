package llm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AccountRotator cycles through the configured Bedrock AWS accounts
// on throttling. The index only needs to move forward under
// contention, not
// be strictly fair, so a plain atomic counter suffices.
type AccountRotator struct {
	accounts []string
	roleName string
	idx      atomic.Uint64

	baseConfig aws.Config
}

// NewAccountRotator builds a rotator over accounts, assuming roleName
// in each one. baseConfig supplies the credentials used to call
// sts:AssumeRole itself (the runtime host's own identity).
func NewAccountRotator(accounts []string, roleName string, baseConfig aws.Config) *AccountRotator {
	return &AccountRotator{accounts: accounts, roleName: roleName, baseConfig: baseConfig}
}

// Next advances the rotation index and returns the account id it now
// points at. Safe for concurrent callers.
func (r *AccountRotator) Next() string {
	if len(r.accounts) == 0 {
		return ""
	}
	i := r.idx.Add(1)
	return r.accounts[i%uint64(len(r.accounts))]
}

// Current returns the account the rotation index currently points at,
// without advancing it. Safe for concurrent callers.
func (r *AccountRotator) Current() string {
	if len(r.accounts) == 0 {
		return ""
	}
	i := r.idx.Load()
	return r.accounts[i%uint64(len(r.accounts))]
}

// Len reports how many accounts are configured.
func (r *AccountRotator) Len() int { return len(r.accounts) }

// AssumeRoleConfig returns an aws.Config whose credentials provider
// assumes roleName in account, caching and auto-refreshing the
// temporary credentials the way stscreds.AssumeRoleProvider does by
// default.
func (r *AccountRotator) AssumeRoleConfig(ctx context.Context, account string) (aws.Config, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", account, r.roleName)
	stsClient := sts.NewFromConfig(r.baseConfig)
	provider := stscreds.NewAssumeRoleProvider(stsClient, roleARN)

	cfg := r.baseConfig.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)
	return cfg, nil
}

// LoadBaseConfig loads the ambient AWS config (env vars, shared config
// file, or the container/instance role) used as the identity that
// assumes into each Bedrock account's role.
func LoadBaseConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}
