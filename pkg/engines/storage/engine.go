package storage

type CommonStorageEngine struct {
	Transactions TransactionRepo
	Nonces       NonceRepo
	Profiles     ProfileRepo
}
