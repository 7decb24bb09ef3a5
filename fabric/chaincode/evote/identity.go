package main

import (
	"encoding/json"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/*
Identity & role registry.

An identity lives under <role>-<did>; the role is part of the key, so a
role change is a re-key (delete + insert in the same transaction). The
admin and election-authority roles are singletons, guarded by a counter
key written transactionally with the identity record instead of a full
prefix scan.
*/

// Identity is a registered participant. A candidate identity doubles as the
// public candidate profile and carries the optional vote counter.
type Identity struct {
	DID          string `json:"did"`
	FullName     string `json:"fullName"`
	DOB          string `json:"dob"`
	Birthplace   string `json:"birthplace"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Image        string `json:"image"`
	Role         string `json:"role"`
	CreatedAt    string `json:"createdAt"`
	VoteCount    int    `json:"voteCount,omitempty"`
}

// getIdentity fetches one identity record or a NOT_FOUND error.
func getIdentity(ctx contractapi.TransactionContextInterface, role, did string) (*Identity, error) {
	raw, err := ctx.GetStub().GetState(identityKey(role, did))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errf(codeNotFound, "identity %s-%s does not exist", role, did)
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// claimSingleton acquires the singleton marker for a role, failing when the
// role is already occupied. No-op for non-singleton roles.
func claimSingleton(ctx contractapi.TransactionContextInterface, role string) error {
	if !singletonRoles[role] {
		return nil
	}
	b, err := ctx.GetStub().GetState(singletonKey(role))
	if err != nil {
		return err
	}
	if b != nil {
		return errf(codeSingletonViolation, "role %s is already assigned", role)
	}
	return ctx.GetStub().PutState(singletonKey(role), []byte("1"))
}

// releaseSingleton frees the singleton marker for a role, if it has one.
func releaseSingleton(ctx contractapi.TransactionContextInterface, role string) error {
	if !singletonRoles[role] {
		return nil
	}
	return ctx.GetStub().DelState(singletonKey(role))
}

// RegisterIdentity creates a new identity under <role>-<did>.
//
// The password arrives as a precomputed digest; the contract never sees a
// plaintext password. Singleton roles reject a second registration even
// under a different did.
func (c *EVoteContract) RegisterIdentity(
	ctx contractapi.TransactionContextInterface,
	role, did, fullName, dob, birthplace, username, passwordHash, image string,
) (string, error) {
	role = strings.TrimSpace(role)
	did = strings.TrimSpace(did)
	if !validRoles[role] {
		return "", errf(codeInvalidArgument, "unknown role %q", role)
	}
	if did == "" || username == "" || passwordHash == "" {
		return "", errf(codeInvalidArgument, "did, username and passwordHash are required")
	}

	key := identityKey(role, did)
	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", errf(codeAlreadyExists, "identity %s already registered", key)
	}
	if err := claimSingleton(ctx, role); err != nil {
		return "", err
	}

	id := Identity{
		DID:          did,
		FullName:     fullName,
		DOB:          dob,
		Birthplace:   birthplace,
		Username:     username,
		PasswordHash: passwordHash,
		Image:        image,
		Role:         role,
		CreatedAt:    nowRFC3339(ctx),
	}
	if err := putRecord(ctx, key, &id); err != nil {
		return "", err
	}

	emitEvent(ctx, eventIdentityRegistered, map[string]string{
		"did": did, "role": role, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, did, "RegisterIdentity"); err != nil {
		return "", err
	}
	return canonicalJSON(&id)
}

// Login verifies credentials and returns the full record on success.
//
// Field stripping (passwordHash etc.) is the gateway's concern; the contract
// returns everything it stores. Read-only, no audit entry.
func (c *EVoteContract) Login(
	ctx contractapi.TransactionContextInterface,
	role, did, dob, username, passwordHash string,
) (string, error) {
	raw, err := ctx.GetStub().GetState(identityKey(role, did))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", errf(codeInvalidCredentials, "invalid credentials")
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	if id.DOB != dob || id.Username != username || id.PasswordHash != passwordHash {
		return "", errf(codeInvalidCredentials, "invalid credentials")
	}
	return canonicalJSON(&id)
}

// UpdateProfile overwrites the mutable profile fields. Empty arguments keep
// the stored value.
func (c *EVoteContract) UpdateProfile(
	ctx contractapi.TransactionContextInterface,
	role, did, fullName, birthplace, image string,
) (string, error) {
	id, err := getIdentity(ctx, role, did)
	if err != nil {
		return "", err
	}
	if fullName != "" {
		id.FullName = fullName
	}
	if birthplace != "" {
		id.Birthplace = birthplace
	}
	if image != "" {
		id.Image = image
	}
	if err := putRecord(ctx, identityKey(role, did), id); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "UpdateProfile"); err != nil {
		return "", err
	}
	return canonicalJSON(id)
}

// ChangePassword swaps the stored digest after verifying the old one.
func (c *EVoteContract) ChangePassword(
	ctx contractapi.TransactionContextInterface,
	role, did, oldHash, newHash string,
) (string, error) {
	if newHash == "" {
		return "", errf(codeInvalidArgument, "new password hash is required")
	}
	id, err := getIdentity(ctx, role, did)
	if err != nil {
		return "", err
	}
	if id.PasswordHash != oldHash {
		return "", errf(codeInvalidCredentials, "invalid credentials")
	}
	id.PasswordHash = newHash
	if err := putRecord(ctx, identityKey(role, did), id); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "ChangePassword"); err != nil {
		return "", err
	}
	return canonicalJSON(id)
}

// DeleteIdentity removes an identity and releases its singleton marker.
func (c *EVoteContract) DeleteIdentity(
	ctx contractapi.TransactionContextInterface,
	role, did string,
) (string, error) {
	id, err := getIdentity(ctx, role, did)
	if err != nil {
		return "", err
	}
	if err := ctx.GetStub().DelState(identityKey(role, did)); err != nil {
		return "", err
	}
	if err := releaseSingleton(ctx, role); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "DeleteIdentity"); err != nil {
		return "", err
	}
	return canonicalJSON(id)
}

// GetIdentity returns one identity record.
func (c *EVoteContract) GetIdentity(
	ctx contractapi.TransactionContextInterface,
	role, did string,
) (string, error) {
	id, err := getIdentity(ctx, role, did)
	if err != nil {
		return "", err
	}
	return canonicalJSON(id)
}

// ListByRole returns every identity registered under one role prefix.
func (c *EVoteContract) ListByRole(
	ctx contractapi.TransactionContextInterface,
	role string,
) (string, error) {
	if !validRoles[role] {
		return "", errf(codeInvalidArgument, "unknown role %q", role)
	}
	vals, err := scanPrefix(ctx, role+"-", "")
	if err != nil {
		return "", err
	}
	ids := make([]Identity, 0, len(vals))
	for _, raw := range vals {
		var id Identity
		if json.Unmarshal(raw, &id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	return listJSON(ids)
}

// ListAllIdentities enumerates every role prefix in a fixed order.
func (c *EVoteContract) ListAllIdentities(ctx contractapi.TransactionContextInterface) (string, error) {
	var all []Identity
	for _, role := range []string{roleAdmin, roleAuthority, roleVoter, roleCandidate} {
		vals, err := scanPrefix(ctx, role+"-", "")
		if err != nil {
			return "", err
		}
		for _, raw := range vals {
			var id Identity
			if json.Unmarshal(raw, &id) != nil {
				continue
			}
			all = append(all, id)
		}
	}
	return listJSON(all)
}

// ReassignRole moves an identity from one role prefix to another.
//
// The delete and insert land in the same transaction, so the move is atomic
// at the ledger level: no committed state ever shows the identity under
// zero or two keys.
func (c *EVoteContract) ReassignRole(
	ctx contractapi.TransactionContextInterface,
	did, oldRole, newRole string,
) (string, error) {
	if !validRoles[oldRole] || !validRoles[newRole] {
		return "", errf(codeInvalidArgument, "unknown role in %q -> %q", oldRole, newRole)
	}
	if oldRole == newRole {
		return "", errf(codeInvalidArgument, "old and new role are both %q", oldRole)
	}
	id, err := getIdentity(ctx, oldRole, did)
	if err != nil {
		return "", err
	}
	newKey := identityKey(newRole, did)
	if existing, err := ctx.GetStub().GetState(newKey); err != nil {
		return "", err
	} else if existing != nil {
		return "", errf(codeAlreadyExists, "identity %s already registered", newKey)
	}
	if err := claimSingleton(ctx, newRole); err != nil {
		return "", err
	}

	if err := ctx.GetStub().DelState(identityKey(oldRole, did)); err != nil {
		return "", err
	}
	if err := releaseSingleton(ctx, oldRole); err != nil {
		return "", err
	}
	id.Role = newRole
	if err := putRecord(ctx, newKey, id); err != nil {
		return "", err
	}

	emitEvent(ctx, eventRoleReassigned, map[string]string{
		"did": did, "from": oldRole, "to": newRole, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, did, "ReassignRole"); err != nil {
		return "", err
	}
	return canonicalJSON(id)
}
