// Package hashing implements domain-separated SHA-256 hashing and canonical
// CBOR encoding shared by every artifact kind in the system.
//
// Every hash is computed over a one-byte domain tag prepended to the
// canonical encoding of its input so that no two artifact kinds can ever
// share a preimage, even if their encoded bytes happen to collide.
package hashing

// Domain tags. Each artifact kind owns exactly one byte; a tag must never be
// reused for a second purpose. 0x07, 0x08, 0x09, 0x16 and 0x17 are pinned to
// match the values already load-bearing in deployed court, ZK and receipt
// tooling; the rest of the allocation is ours to make, chosen to leave room
// for growth within each family (0x0X policy/ZK, 0x1X receipts/ledger, 0x2X
// consensus, 0x3X settlement, 0x4X registry/network).
const (
	TagCourt         byte = 0x07 // Policy/Agreement court record hash
	TagZKProof       byte = 0x08 // ZkProof artifact hash
	TagZKClaim       byte = 0x09 // ZkClaim statement+parameter binding

	TagStepReceipt   byte = 0x10 // Single StepReceipt hash
	TagLogBlock      byte = 0x11 // LogBlock hash
	TagPoEBundle     byte = 0x12 // PoEBundle hash
	TagWorkload      byte = 0x13 // Workload descriptor hash
	TagClusterNode   byte = 0x14 // ClusterNode descriptor hash
	TagAnchorInfo    byte = 0x15 // AnchorInfo hash
	TagReceiptsRoot  byte = 0x16 // Merkle root over StepReceipt hashes
	TagTrafficLight  byte = 0x17 // TrafficLightDecision hash

	TagBlockHeader   byte = 0x20 // Consensus Block header hash
	TagBlsCommit     byte = 0x21 // BlsCommit aggregate-signature payload hash
	TagValidatorSet  byte = 0x22 // Validator set snapshot hash
	TagVote          byte = 0x23 // Single prevote/precommit vote hash

	TagNftClaim      byte = 0x30 // NftClaim token hash
	TagSettlementCoin byte = 0x31 // SettlementCoin (SC4) hash
	TagBankSettlement byte = 0x32 // BankSettlement record hash

	TagAPIKey        byte = 0x40 // Registry API key material hash
	TagRegistryEntry byte = 0x41 // Registry entry hash
)
