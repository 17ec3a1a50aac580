package types

// encrypts data
type Encrypter interface {
	// encrypt a buffer of data
	// return encrypted buffer or nil and error if error happens
	Encrypt(data []byte) ([]byte, error)
}

// BlockEncrypter encrypts exactly one cipher block at a time.
type BlockEncrypter interface {
	// EncryptBlock encrypts a single block; src and dst must both be one block long
	EncryptBlock(dst, src []byte) error
	BlockSize() int
}

// SymmetricKey builds stream encrypters and decrypters sharing one key and IV
type SymmetricKey interface {
	Len() int
	NewEncrypter() (Encrypter, error)
	NewDecrypter() (Decrypter, error)
}
