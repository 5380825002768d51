package client

// ExchangeABI 交易所合约 ABI
// 只包含引擎用到的函数：nonce 查询、订单执行、订单取消、余额查询
const ExchangeABI = `[
	{
		"inputs": [{"name": "user", "type": "address"}],
		"name": "getNonce",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "order", "type": "tuple", "components": [
				{"name": "maker", "type": "address"},
				{"name": "tokenGet", "type": "address"},
				{"name": "amountGet", "type": "uint256"},
				{"name": "tokenGive", "type": "address"},
				{"name": "amountGive", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "expiry", "type": "uint256"},
				{"name": "orderType", "type": "uint8"},
				{"name": "timeInForce", "type": "uint8"},
				{"name": "side", "type": "uint8"},
				{"name": "stopPrice", "type": "uint256"},
				{"name": "minFillAmount", "type": "uint256"},
				{"name": "allowPartialFill", "type": "bool"},
				{"name": "feeRecipient", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			]},
			{"name": "signature", "type": "bytes"},
			{"name": "fillAmount", "type": "uint256"}
		],
		"name": "executeOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "order", "type": "tuple", "components": [
				{"name": "maker", "type": "address"},
				{"name": "tokenGet", "type": "address"},
				{"name": "amountGet", "type": "uint256"},
				{"name": "tokenGive", "type": "address"},
				{"name": "amountGive", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "expiry", "type": "uint256"},
				{"name": "orderType", "type": "uint8"},
				{"name": "timeInForce", "type": "uint8"},
				{"name": "side", "type": "uint8"},
				{"name": "stopPrice", "type": "uint256"},
				{"name": "minFillAmount", "type": "uint256"},
				{"name": "allowPartialFill", "type": "bool"},
				{"name": "feeRecipient", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			]},
			{"name": "signature", "type": "bytes"},
			{"name": "maxSlippage", "type": "uint256"}
		],
		"name": "executeMarketOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "order", "type": "tuple", "components": [
				{"name": "maker", "type": "address"},
				{"name": "tokenGet", "type": "address"},
				{"name": "amountGet", "type": "uint256"},
				{"name": "tokenGive", "type": "address"},
				{"name": "amountGive", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "expiry", "type": "uint256"},
				{"name": "orderType", "type": "uint8"},
				{"name": "timeInForce", "type": "uint8"},
				{"name": "side", "type": "uint8"},
				{"name": "stopPrice", "type": "uint256"},
				{"name": "minFillAmount", "type": "uint256"},
				{"name": "allowPartialFill", "type": "bool"},
				{"name": "feeRecipient", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			]}
		],
		"name": "cancelOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "orders", "type": "tuple[]", "components": [
				{"name": "maker", "type": "address"},
				{"name": "tokenGet", "type": "address"},
				{"name": "amountGet", "type": "uint256"},
				{"name": "tokenGive", "type": "address"},
				{"name": "amountGive", "type": "uint256"},
				{"name": "nonce", "type": "uint256"},
				{"name": "expiry", "type": "uint256"},
				{"name": "orderType", "type": "uint8"},
				{"name": "timeInForce", "type": "uint8"},
				{"name": "side", "type": "uint8"},
				{"name": "stopPrice", "type": "uint256"},
				{"name": "minFillAmount", "type": "uint256"},
				{"name": "allowPartialFill", "type": "bool"},
				{"name": "feeRecipient", "type": "address"},
				{"name": "feeAmount", "type": "uint256"}
			]}
		],
		"name": "cancelOrders",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "incrementNonce",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "token", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
