package pgstore

import (
	"database/sql"
	"encoding/json"

	"github.com/orgvault/secretreplica/internal/domain"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(s scanner) (domain.Secret, error) {
	var sec domain.Secret
	var blindIndex sql.NullString
	var secretType string
	var metadata []byte
	if err := s.Scan(
		&sec.ID, &sec.FolderID, &blindIndex, &secretType, &sec.Version, &sec.IsReplicated,
		&sec.KeyEncoding, &sec.Algorithm, &metadata,
		&sec.Ciphertexts.Key.IV, &sec.Ciphertexts.Key.Tag, &sec.Ciphertexts.Key.Ciphertext,
		&sec.Ciphertexts.Value.IV, &sec.Ciphertexts.Value.Tag, &sec.Ciphertexts.Value.Ciphertext,
		&sec.Ciphertexts.Comment.IV, &sec.Ciphertexts.Comment.Tag, &sec.Ciphertexts.Comment.Ciphertext,
		&sec.SkipMultilineEncoding,
	); err != nil {
		return domain.Secret{}, err
	}
	sec.Type = domain.SecretType(secretType)
	if blindIndex.Valid {
		sec.SecretBlindIndex = &blindIndex.String
	}
	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return domain.Secret{}, err
	}
	sec.Metadata = meta
	return sec, nil
}

func scanSecretVersion(s scanner) (domain.SecretVersion, error) {
	var v domain.SecretVersion
	var blindIndex sql.NullString
	var secretType string
	var metadata []byte
	if err := s.Scan(
		&v.ID, &v.SecretID, &v.Version, &v.LatestReplicatedVersion, &v.IsReplicated,
		&blindIndex, &secretType, &v.KeyEncoding, &v.Algorithm, &metadata,
		&v.Ciphertexts.Key.IV, &v.Ciphertexts.Key.Tag, &v.Ciphertexts.Key.Ciphertext,
		&v.Ciphertexts.Value.IV, &v.Ciphertexts.Value.Tag, &v.Ciphertexts.Value.Ciphertext,
		&v.Ciphertexts.Comment.IV, &v.Ciphertexts.Comment.Tag, &v.Ciphertexts.Comment.Ciphertext,
		&v.SkipMultilineEncoding,
	); err != nil {
		return domain.SecretVersion{}, err
	}
	v.Type = domain.SecretType(secretType)
	if blindIndex.Valid {
		v.SecretBlindIndex = &blindIndex.String
	}
	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return domain.SecretVersion{}, err
	}
	v.Metadata = meta
	return v, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
