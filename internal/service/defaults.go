package service

// DefaultMarket describes a built-in market.
type DefaultMarket struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Topic       string
	Purpose     string
}

// DefaultMarkets are created at startup when seeding is enabled.
var DefaultMarkets = []DefaultMarket{
	{
		ID:          "crypto-kings",
		Name:        "Crypto Kings",
		Description: "Bitcoin vs Ethereum. Solana vs everyone. Stake your opinion.",
		Icon:        "👑",
		Topic:       "Which blockchain will dominate in 2030?",
		Purpose:     "Debate the future of crypto",
	},
	{
		ID:          "ai-wars",
		Name:        "AI Wars",
		Description: "GPT vs Claude vs Gemini. Which AI reigns supreme?",
		Icon:        "🤖",
		Topic:       "Which AI model is the most capable?",
		Purpose:     "Debate AI supremacy",
	},
	{
		ID:          "tech-bets",
		Name:        "Tech Bets",
		Description: "Will Apple kill the iPhone? Is TikTok dead? Hot tech takes.",
		Icon:        "💻",
		Topic:       "What will be the biggest tech flop of the decade?",
		Purpose:     "Bet on tech predictions",
	},
	{
		ID:          "degen-pit",
		Name:        "Degen Pit",
		Description: "The wildest takes. Pineapple on pizza to simulation theory. Anything goes.",
		Icon:        "🎲",
		Topic:       "Is pineapple on pizza a crime against humanity?",
		Purpose:     "Maximum entertainment value",
	},
	{
		ID:          "money-talks",
		Name:        "Money Talks",
		Description: "Stocks vs crypto vs real estate. Where should you park your money?",
		Icon:        "💰",
		Topic:       "Is traditional investing dead in the age of DeFi?",
		Purpose:     "Debate financial strategies",
	},
	{
		ID:          "policy-arena",
		Name:        "Policy Arena",
		Description: "Regulation vs innovation. Privacy vs security. The big questions.",
		Icon:        "⚖️",
		Topic:       "Should AI development be regulated by governments?",
		Purpose:     "Debate governance and policy",
	},
}
