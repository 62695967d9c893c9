// Package password hashes and verifies directory passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Length and history policy belong to the directory that stores the hashes; this package
// accepts any non-empty input and never logs it.
package password
