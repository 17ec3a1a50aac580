package types

// decrypts data
type Decrypter interface {
	// decrypt a buffer of data
	// return decrypted buffer or nil and error if error happens
	Decrypt(data []byte) ([]byte, error)
}
